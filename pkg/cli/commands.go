package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simkeeper/pkg/bundle"
	"github.com/devicelab-dev/simkeeper/pkg/install"
	"github.com/devicelab-dev/simkeeper/pkg/launch"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
	"github.com/devicelab-dev/simkeeper/pkg/procman"
	"github.com/devicelab-dev/simkeeper/pkg/sandbox"
	"github.com/devicelab-dev/simkeeper/pkg/simctl"
)

var appFlag = &cli.StringFlag{
	Name:     "app",
	Usage:    "Path to the .app bundle",
	Required: true,
}

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List available simulators",
	Action: func(c *cli.Context) error {
		devs, err := simctl.List()
		if err != nil {
			return err
		}
		for _, d := range devs {
			fmt.Printf("%-40s %s  iOS %-6s %s\n", d.Name, d.UDID, d.OSVersion, d.State)
		}
		return nil
	},
}

var installCommand = &cli.Command{
	Name:  "install",
	Usage: "Install or update the app on a simulator (digest-compared, sandbox preserved)",
	Flags: []cli.Flag{appFlag},
	Action: func(c *cli.Context) error {
		opts, err := setup(c)
		if err != nil {
			return err
		}
		defer logger.Close()

		dev, err := resolveDevice(c)
		if err != nil {
			return err
		}
		app, err := bundle.Open(c.String("app"))
		if err != nil {
			return err
		}

		recon := install.New(dev, simctl.NewClient(), opts)
		installed, err := recon.Install(app)
		if err != nil {
			return err
		}
		fmt.Printf("Installed %s at %s\n", installed.BundleID, installed.AppDir)
		return nil
	},
}

var launchCommand = &cli.Command{
	Name:  "launch",
	Usage: "Install, boot, and launch the app with retries",
	Flags: []cli.Flag{appFlag},
	Action: func(c *cli.Context) error {
		opts, err := setup(c)
		if err != nil {
			return err
		}
		defer logger.Close()

		dev, err := resolveDevice(c)
		if err != nil {
			return err
		}
		app, err := bundle.Open(c.String("app"))
		if err != nil {
			return err
		}

		ctl := simctl.NewClient()
		proc := procman.New(opts.GracefulWait, opts.PollInterval)
		recon := install.New(dev, ctl, opts)
		orch := launch.New(dev, ctl, proc, recon, simctl.NewManager(), opts)

		if err := orch.Launch(app); err != nil {
			return err
		}
		fmt.Printf("Launched %s on %s\n", app.Identifier, dev.UDID)
		return nil
	},
}

var resetCommand = &cli.Command{
	Name:  "reset",
	Usage: "Purge the app's sandbox (Documents, tmp, non-protected preferences)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "bundle-id",
			Usage: "Bundle identifier of the installed app",
		},
		&cli.StringFlag{
			Name:  "app",
			Usage: "Path to the .app bundle (alternative to --bundle-id)",
		},
	},
	Action: func(c *cli.Context) error {
		opts, err := setup(c)
		if err != nil {
			return err
		}
		defer logger.Close()

		dev, err := resolveDevice(c)
		if err != nil {
			return err
		}

		bundleID := c.String("bundle-id")
		if bundleID == "" {
			if c.String("app") == "" {
				return fmt.Errorf("either --bundle-id or --app is required")
			}
			app, err := bundle.Open(c.String("app"))
			if err != nil {
				return err
			}
			bundleID = app.Identifier
		}

		ctl := simctl.NewClient()
		proc := procman.New(opts.GracefulWait, opts.PollInterval)
		recon := install.New(dev, ctl, opts)
		resetter := sandbox.New(dev, ctl, proc, recon, opts)

		if err := resetter.Reset(bundleID); err != nil {
			return err
		}
		fmt.Printf("Reset sandbox of %s on %s\n", bundleID, dev.UDID)
		return nil
	},
}

var eraseCommand = &cli.Command{
	Name:  "erase",
	Usage: "Shut down a simulator and wipe its data directory",
	Action: func(c *cli.Context) error {
		opts, err := setup(c)
		if err != nil {
			return err
		}
		defer logger.Close()

		dev, err := resolveDevice(c)
		if err != nil {
			return err
		}

		// simctl rejects erasing a booted device.
		ctl := simctl.NewClient()
		if err := ctl.Shutdown(dev.UDID); err != nil {
			return err
		}
		proc := procman.New(opts.GracefulWait, opts.PollInterval)
		if err := proc.TerminateAllMatching(procman.SimulatorServices); err != nil {
			return err
		}
		if _, err := proc.WaitForDisappearance(launch.SimulatorProcessName, opts.StateWaitTimeout, true); err != nil {
			return err
		}

		if err := ctl.Erase(dev.UDID, opts.EraseTimeout); err != nil {
			return err
		}
		fmt.Printf("Erased %s\n", dev.UDID)
		return nil
	},
}

var shutdownCommand = &cli.Command{
	Name:  "shutdown",
	Usage: "Shut down a simulator and its process tree",
	Action: func(c *cli.Context) error {
		opts, err := setup(c)
		if err != nil {
			return err
		}
		defer logger.Close()

		dev, err := resolveDevice(c)
		if err != nil {
			return err
		}

		if err := simctl.NewClient().Shutdown(dev.UDID); err != nil {
			return err
		}
		proc := procman.New(opts.GracefulWait, opts.PollInterval)
		if err := proc.TerminateAllMatching(procman.SimulatorServices); err != nil {
			return err
		}
		if _, err := proc.WaitForDisappearance(launch.SimulatorProcessName, opts.StateWaitTimeout, true); err != nil {
			return err
		}
		fmt.Printf("Shut down %s\n", dev.UDID)
		return nil
	},
}
