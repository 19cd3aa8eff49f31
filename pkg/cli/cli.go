// Package cli provides the command-line interface for simkeeper.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simkeeper/pkg/config"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
	"github.com/devicelab-dev/simkeeper/pkg/simctl"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Simulator to target (UDID or name)",
		EnvVars: []string{"SIMKEEPER_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to simkeeper.yaml",
		EnvVars: []string{"SIMKEEPER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file path",
		Value:   "simkeeper.log",
		EnvVars: []string{"SIMKEEPER_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Echo log lines to stderr",
		EnvVars: []string{"SIMKEEPER_VERBOSE"},
	},
}

// Execute runs the CLI.
func Execute() {
	app := &cli.App{
		Name:    "simkeeper",
		Usage:   "iOS simulator lifecycle manager for automated test runs",
		Version: Version,
		Description: `simkeeper boots simulators, keeps a test app's installed content in
sync with the latest build, launches it reliably, and resets its
sandbox between runs.

Examples:
  simkeeper devices
  simkeeper launch --device "iPhone 15 Pro" --app build/MyApp.app
  simkeeper reset --device <UDID> --bundle-id com.example.myapp`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			devicesCommand,
			installCommand,
			launchCommand,
			resetCommand,
			eraseCommand,
			shutdownCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup initializes logging and loads options for a command.
func setup(c *cli.Context) (*config.Options, error) {
	if err := logger.Init(c.String("log-file")); err != nil {
		return nil, err
	}
	logger.SetVerbose(c.Bool("verbose"))

	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	return config.LoadFromDir(cwd)
}

// resolveDevice resolves the --device flag into a Device once, at the
// boundary. Everything below the CLI works on a resolved Device.
func resolveDevice(c *cli.Context) (*simctl.Device, error) {
	ident := c.String("device")
	if ident == "" {
		return nil, fmt.Errorf("no device specified\nHint: pass --device <UDID or name>, see `simkeeper devices`")
	}
	return simctl.ByIdentifier(ident).Resolve()
}
