// Package procman locates and terminates the OS processes backing a
// simulator instance.
package procman

import (
	"syscall"
	"time"

	"github.com/devicelab-dev/simkeeper/pkg/logger"
	"github.com/devicelab-dev/simkeeper/pkg/poll"
)

// Process is one row of the OS process table.
type Process struct {
	Pid     int
	Command string // full command path as reported by ps
}

// Managed describes a process name this supervisor is allowed to kill.
// Graceful processes get SIGTERM and a short grace period first; some
// daemons only shut down cleanly that way but take too long to restart
// if force-killed, while others ignore SIGTERM and must be SIGKILLed to
// avoid hangs in dependent processes.
type Managed struct {
	Name     string
	Graceful bool
}

// SimulatorServices is the ordered kill list for a simulator's process
// tree. UI processes come before backend daemons so children are not
// orphaned mid-shutdown.
var SimulatorServices = []Managed{
	{Name: "Simulator", Graceful: true},
	{Name: "SimulatorTrampoline", Graceful: true},
	{Name: "launchd_sim", Graceful: false},
	{Name: "SimStreamProcessorService", Graceful: false},
	{Name: "com.apple.CoreSimulator.CoreSimulatorService", Graceful: false},
}

// Supervisor finds, waits for, and terminates processes by name. The
// process table and signal primitives are injectable for tests; the
// defaults shell out to ps and use syscall.Kill.
type Supervisor struct {
	table        func() ([]Process, error)
	kill         func(pid int, sig syscall.Signal) error
	gracefulWait time.Duration
	pollInterval time.Duration
}

// New creates a Supervisor with the real process table and kill.
func New(gracefulWait, pollInterval time.Duration) *Supervisor {
	return &Supervisor{
		table:        listProcesses,
		kill:         syscall.Kill,
		gracefulWait: gracefulWait,
		pollInterval: pollInterval,
	}
}

// FindPids returns the pids of all processes whose executable name
// matches name. The ps helper invocation itself is excluded by the
// table query. Returns an empty slice when nothing matches.
func (s *Supervisor) FindPids(name string) ([]int, error) {
	procs, err := s.table()
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, p := range procs {
		if commandName(p.Command) == name {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

// IsRunning reports whether at least one process matches name.
func (s *Supervisor) IsRunning(name string) bool {
	pids, err := s.FindPids(name)
	return err == nil && len(pids) > 0
}

// WaitForAppearance blocks until a process matching name exists, or the
// timeout elapses. Returns true immediately if one is already running.
func (s *Supervisor) WaitForAppearance(name string, timeout time.Duration, strict bool) (bool, error) {
	return poll.Until(func() (bool, error) {
		return s.IsRunning(name), nil
	}, true, poll.Options{
		Timeout:  timeout,
		Interval: s.pollInterval,
		Strict:   strict,
		What:     "process " + name + " to appear",
	})
}

// WaitForDisappearance blocks until no process matching name remains.
func (s *Supervisor) WaitForDisappearance(name string, timeout time.Duration, strict bool) (bool, error) {
	return poll.Until(func() (bool, error) {
		return s.IsRunning(name), nil
	}, false, poll.Options{
		Timeout:  timeout,
		Interval: s.pollInterval,
		Strict:   strict,
		What:     "process " + name + " to exit",
	})
}

// Terminate kills one pid following the managed process's escalation
// policy: SIGTERM first when Graceful, waiting up to the grace period
// for the process to exit, then SIGKILL. "No such process" is not an
// error on either signal.
func (s *Supervisor) Terminate(pid int, m Managed) error {
	if m.Graceful {
		logger.Debug("sending SIGTERM to %s (pid %d)", m.Name, pid)
		if err := s.signal(pid, syscall.SIGTERM); err != nil {
			return err
		}
		gone, _ := poll.Until(func() (bool, error) {
			return s.alive(pid), nil
		}, false, poll.Options{
			Timeout:  s.gracefulWait,
			Interval: s.pollInterval,
			What:     "pid to exit after SIGTERM",
		})
		if gone {
			return nil
		}
	}

	logger.Debug("sending SIGKILL to %s (pid %d)", m.Name, pid)
	return s.signal(pid, syscall.SIGKILL)
}

// TerminateAllMatching applies Terminate to every pid matching each
// entry of list, in list order.
func (s *Supervisor) TerminateAllMatching(list []Managed) error {
	for _, m := range list {
		pids, err := s.FindPids(m.Name)
		if err != nil {
			return err
		}
		for _, pid := range pids {
			logger.Info("terminating %s (pid %d, graceful=%v)", m.Name, pid, m.Graceful)
			if err := s.Terminate(pid, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Supervisor) signal(pid int, sig syscall.Signal) error {
	err := s.kill(pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// alive probes pid existence with signal 0.
func (s *Supervisor) alive(pid int) bool {
	return s.kill(pid, 0) == nil
}
