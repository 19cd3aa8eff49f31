package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simkeeper/pkg/logger"
)

// runWithFlags executes fn inside a cli.Context built from args.
func runWithFlags(t *testing.T, args []string, fn func(c *cli.Context) error) {
	t.Helper()
	app := &cli.App{Name: "simkeeper", Flags: GlobalFlags, Action: fn}
	if err := app.Run(append([]string{"simkeeper"}, args...)); err != nil {
		t.Fatalf("app.Run() error = %v", err)
	}
}

func TestResolveDevice_MissingFlag(t *testing.T) {
	runWithFlags(t, nil, func(c *cli.Context) error {
		_, err := resolveDevice(c)
		if err == nil {
			t.Fatal("resolveDevice() error = nil, want missing-device error")
		}
		if !strings.Contains(err.Error(), "no device specified") {
			t.Errorf("error = %v", err)
		}
		return nil
	})
}

func TestSetup_LoadsConfigFlag(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "simkeeper.yaml")
	if err := os.WriteFile(cfgPath, []byte("launchRetries: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(dir, "test.log")

	runWithFlags(t, []string{"--config", cfgPath, "--log-file", logPath}, func(c *cli.Context) error {
		opts, err := setup(c)
		if err != nil {
			t.Fatalf("setup() error = %v", err)
		}
		defer logger.Close()
		if opts.LaunchRetries != 9 {
			t.Errorf("LaunchRetries = %d, want 9", opts.LaunchRetries)
		}
		if _, err := os.Stat(logPath); err != nil {
			t.Errorf("log file not created: %v", err)
		}
		return nil
	})
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"devices": false, "install": false, "launch": false, "reset": false, "erase": false, "shutdown": false}
	for _, cmd := range []*cli.Command{devicesCommand, installCommand, launchCommand, resetCommand, eraseCommand, shutdownCommand} {
		if _, ok := want[cmd.Name]; !ok {
			t.Errorf("unexpected command %q", cmd.Name)
			continue
		}
		want[cmd.Name] = true
		if cmd.Usage == "" {
			t.Errorf("command %q has no usage text", cmd.Name)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("command %q not defined", name)
		}
	}
}
