package procman

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// listProcesses queries the OS process table via ps. The ps child
// itself is excluded so a query never matches its own helper.
func listProcesses() ([]Process, error) {
	cmd := exec.Command("ps", "axo", "pid=,comm=")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	selfPid := 0
	if cmd.Process != nil {
		selfPid = cmd.Process.Pid
	}

	var procs []Process
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		if pid == selfPid {
			continue
		}
		procs = append(procs, Process{Pid: pid, Command: strings.TrimSpace(fields[1])})
	}
	return procs, scanner.Err()
}

// commandName reduces a ps command path to a bare process name.
func commandName(command string) string {
	return filepath.Base(command)
}
