// Package launch drives install, simulator boot, and app launch with
// bounded retries. Launch failures trigger a recovery action (kill the
// simulator's service tree and boot fresh) before the next attempt,
// because a wedged CoreSimulator service fails every launch until it
// is restarted.
package launch

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/simkeeper/pkg/bundle"
	"github.com/devicelab-dev/simkeeper/pkg/config"
	"github.com/devicelab-dev/simkeeper/pkg/core"
	"github.com/devicelab-dev/simkeeper/pkg/install"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
	"github.com/devicelab-dev/simkeeper/pkg/poll"
	"github.com/devicelab-dev/simkeeper/pkg/procman"
	"github.com/devicelab-dev/simkeeper/pkg/simctl"
)

// SimulatorProcessName is the Simulator UI process.
const SimulatorProcessName = "Simulator"

// Control is the subset of simctl the orchestrator needs.
type Control interface {
	Boot(udid string) error
	Launch(udid, bundleID string, timeout time.Duration) error
	OpenSimulatorApp() error
}

// Installer reconciles the app before launch.
type Installer interface {
	Install(app *bundle.App) (*install.InstalledApp, error)
}

// Supervisor is the subset of procman the orchestrator needs.
type Supervisor interface {
	IsRunning(name string) bool
	WaitForAppearance(name string, timeout time.Duration, strict bool) (bool, error)
	TerminateAllMatching(list []procman.Managed) error
}

// Orchestrator sequences install, boot, launch, and verification for
// one device.
type Orchestrator struct {
	dev   *simctl.Device
	ctl   Control
	proc  Supervisor
	recon Installer
	mgr   *simctl.Manager
	opts  *config.Options

	// queryState defaults to dev.QueryState; split out so the boot
	// and verification waits can be exercised without a live simctl.
	queryState func() (core.DeviceState, error)
}

// New creates an Orchestrator.
func New(dev *simctl.Device, ctl Control, proc Supervisor, recon Installer, mgr *simctl.Manager, opts *config.Options) *Orchestrator {
	return &Orchestrator{
		dev:        dev,
		ctl:        ctl,
		proc:       proc,
		recon:      recon,
		mgr:        mgr,
		opts:       opts,
		queryState: dev.QueryState,
	}
}

// Launch installs the app if needed, boots the simulator, launches the
// app with bounded retries, and verifies the app process is running.
func (o *Orchestrator) Launch(app *bundle.App) error {
	if _, err := o.recon.Install(app); err != nil {
		return err
	}

	if err := o.ensureBooted(false); err != nil {
		return err
	}

	if err := o.launchWithRetries(app); err != nil {
		return err
	}

	return o.verify(app)
}

// launchWithRetries attempts the launch primitive up to LaunchRetries
// times. The delay between attempts is a short constant: the recovery
// step already takes several seconds, so growing backoff buys nothing.
func (o *Orchestrator) launchWithRetries(app *bundle.App) error {
	maxAttempts := o.opts.LaunchRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	attempts := 0
	var lastErr error

	op := func() error {
		attempts++
		logger.Info("launch attempt %d/%d for %s", attempts, maxAttempts, app.Identifier)
		err := o.ctl.Launch(o.dev.UDID, app.Identifier, o.opts.LaunchTimeout)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("launch attempt %d failed: %v", attempts, err)
		if attempts < maxAttempts {
			o.recover()
		}
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.RetryDelay), uint64(maxAttempts-1))
	if err := backoff.Retry(op, b); err != nil {
		return core.ErrLaunchFailed.WithMessage(
			fmt.Sprintf("app launch failed after %d attempts", attempts)).WithCause(lastErr)
	}
	return nil
}

// recover resets the simulator's internal service state after a failed
// launch: kill the managed process tree, pause, boot fresh. Errors are
// logged, not returned; the next launch attempt decides the outcome.
func (o *Orchestrator) recover() {
	logger.Info("running launch recovery: restarting simulator services")
	if err := o.proc.TerminateAllMatching(procman.SimulatorServices); err != nil {
		logger.Warn("recovery: failed to terminate simulator services: %v", err)
	}
	time.Sleep(o.opts.RecoveryPause)
	if err := o.ensureBooted(true); err != nil {
		logger.Warn("recovery: failed to reboot simulator: %v", err)
	}
}

// ensureBooted makes the device report Booted with a Simulator process
// we can trust. A simulator we booted ourselves that still reports
// Booted is reused; anything else is torn down and booted fresh.
func (o *Orchestrator) ensureBooted(force bool) error {
	if !force && o.proc.IsRunning(SimulatorProcessName) && o.mgr.StartedByUs(o.dev.UDID) {
		if state, err := o.queryState(); err == nil && state == core.StateBooted {
			logger.Debug("reusing simulator we booted: %s", o.dev.UDID)
			return nil
		}
	}

	if err := o.proc.TerminateAllMatching(procman.SimulatorServices); err != nil {
		return err
	}
	o.mgr.Forget(o.dev.UDID)

	bootStart := time.Now()
	if err := o.ctl.Boot(o.dev.UDID); err != nil {
		return err
	}
	o.ctl.OpenSimulatorApp()

	if _, err := o.proc.WaitForAppearance(SimulatorProcessName, o.opts.BootTimeout, true); err != nil {
		return err
	}
	if err := o.waitForState(core.StateBooted, o.opts.BootTimeout); err != nil {
		return err
	}

	o.mgr.Track(o.dev, bootStart)
	logger.Info("simulator booted in %v: %s", time.Since(bootStart), o.dev.UDID)
	return nil
}

// verify waits for the app's executable to be schedulable. The launch
// primitive can report success before the process actually runs.
func (o *Orchestrator) verify(app *bundle.App) error {
	if app.Executable != "" {
		if _, err := o.proc.WaitForAppearance(app.Executable, o.opts.StateWaitTimeout, true); err != nil {
			return err
		}
	}
	if err := o.waitForState(core.StateBooted, o.opts.StateWaitTimeout); err != nil {
		return err
	}
	logger.Info("app %s is running on %s", app.Identifier, o.dev.UDID)
	return nil
}

func (o *Orchestrator) waitForState(target core.DeviceState, timeout time.Duration) error {
	_, err := poll.Until(func() (core.DeviceState, error) {
		return o.queryState()
	}, target, poll.Options{
		Timeout:  timeout,
		Interval: o.opts.PollInterval,
		Strict:   true,
		What:     fmt.Sprintf("device %s to report %s", o.dev.UDID, target),
	})
	return err
}
