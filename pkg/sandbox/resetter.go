// Package sandbox purges an app's private storage between test runs
// while keeping the preference files the automation harness itself
// depends on.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/simkeeper/pkg/config"
	"github.com/devicelab-dev/simkeeper/pkg/core"
	"github.com/devicelab-dev/simkeeper/pkg/install"
	"github.com/devicelab-dev/simkeeper/pkg/layout"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
	"github.com/devicelab-dev/simkeeper/pkg/poll"
	"github.com/devicelab-dev/simkeeper/pkg/procman"
	"github.com/devicelab-dev/simkeeper/pkg/simctl"
)

// Protected preference files. Deleting these would break the
// automation harness performing the reset.
var (
	modernProtected = map[string]bool{
		"com.apple.UIAutomation.plist":  true,
		"com.apple.Accessibility.plist": true,
	}
	legacyProtected = map[string]bool{
		".GlobalPreferences.plist":     true,
		"com.apple.PeoplePicker.plist": true,
	}
)

// Control is the subset of simctl the resetter needs.
type Control interface {
	Shutdown(udid string) error
}

// Locator finds the installed app record and the device path layout.
type Locator interface {
	LocateInstalled(bundleID string) (*install.InstalledApp, error)
	Paths() layout.Paths
}

// Supervisor is the subset of procman the resetter needs.
type Supervisor interface {
	TerminateAllMatching(list []procman.Managed) error
	WaitForDisappearance(name string, timeout time.Duration, strict bool) (bool, error)
}

// Resetter purges one app's sandbox on one device.
type Resetter struct {
	dev   *simctl.Device
	ctl   Control
	proc  Supervisor
	recon Locator
	opts  *config.Options

	// queryState defaults to dev.QueryState; split out so the
	// shutdown wait can be exercised without a live simctl.
	queryState func() (core.DeviceState, error)
}

// New creates a Resetter.
func New(dev *simctl.Device, ctl Control, proc Supervisor, recon Locator, opts *config.Options) *Resetter {
	return &Resetter{
		dev:        dev,
		ctl:        ctl,
		proc:       proc,
		recon:      recon,
		opts:       opts,
		queryState: dev.QueryState,
	}
}

// Reset purges the app's Documents, tmp, caches, and non-protected
// preferences. A no-op when the app is not installed. The simulator is
// shut down first: mutating the sandbox while it holds open file
// handles risks corrupting both.
func (r *Resetter) Reset(bundleID string) error {
	installed, err := r.recon.LocateInstalled(bundleID)
	if err != nil {
		return err
	}
	if installed == nil {
		logger.Info("reset: %s not installed on %s, nothing to do", bundleID, r.dev.UDID)
		return nil
	}

	if err := r.ensureShutdown(); err != nil {
		return err
	}

	if installed.SandboxDir == "" {
		logger.Warn("reset: %s has no sandbox directory yet", bundleID)
		return nil
	}

	if err := r.resetShared(installed.SandboxDir); err != nil {
		return err
	}

	paths := r.recon.Paths()
	if paths.Layout == layout.Modern {
		return r.resetModern(installed.SandboxDir)
	}
	return r.resetLegacy(installed.SandboxDir, bundleID, paths)
}

// ensureShutdown drives the device to Shutdown and the simulator
// process tree out of existence, strictly.
func (r *Resetter) ensureShutdown() error {
	state, err := r.queryState()
	if err != nil {
		return err
	}
	if state != core.StateShutdown {
		if err := r.ctl.Shutdown(r.dev.UDID); err != nil {
			return err
		}
		if _, err := poll.Until(func() (core.DeviceState, error) {
			return r.queryState()
		}, core.StateShutdown, poll.Options{
			Timeout:  r.opts.StateWaitTimeout,
			Interval: r.opts.PollInterval,
			Strict:   true,
			What:     "device to shut down before sandbox reset",
		}); err != nil {
			return err
		}
	}

	if err := r.proc.TerminateAllMatching(procman.SimulatorServices); err != nil {
		return err
	}
	_, err = r.proc.WaitForDisappearance("Simulator", r.opts.StateWaitTimeout, true)
	return err
}

// resetShared deletes and recreates Documents and tmp.
func (r *Resetter) resetShared(sandbox string) error {
	for _, name := range []string{"Documents", "tmp"} {
		dir := filepath.Join(sandbox, name)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to recreate %s: %w", dir, err)
		}
		logger.Debug("reset %s", dir)
	}
	return nil
}

// resetModern clears Library except the Preferences subtree, then
// clears Preferences except the protected automation-support files.
func (r *Resetter) resetModern(sandbox string) error {
	library := filepath.Join(sandbox, "Library")
	if err := purgeDir(library, map[string]bool{"Preferences": true}); err != nil {
		return err
	}
	return purgeDir(filepath.Join(library, "Preferences"), modernProtected)
}

// resetLegacy clears Preferences except the global and people-picker
// files, then deletes the app's own preference file from the
// device-level preferences directory. That last file lives outside the
// sandbox; only the exact <bundle-id>.plist filename is touched.
func (r *Resetter) resetLegacy(sandbox, bundleID string, paths layout.Paths) error {
	if err := purgeDir(filepath.Join(sandbox, "Library", "Preferences"), legacyProtected); err != nil {
		return err
	}

	devicePref := filepath.Join(paths.DevicePreferences(), bundleID+".plist")
	if err := os.Remove(devicePref); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", devicePref, err)
	}
	return nil
}

// purgeDir removes every entry of dir whose name is not in keep. A
// missing dir is fine.
func purgeDir(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		logger.Debug("removed %s", path)
	}
	return nil
}
