// Package install reconciles the app bundle installed on a simulator
// with a candidate build, by content digest. It heals partial installs
// and performs in-place content replacement so the app's sandbox
// survives a rebuild.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"howett.net/plist"

	"github.com/devicelab-dev/simkeeper/pkg/bundle"
	"github.com/devicelab-dev/simkeeper/pkg/config"
	"github.com/devicelab-dev/simkeeper/pkg/core"
	"github.com/devicelab-dev/simkeeper/pkg/layout"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
	"github.com/devicelab-dev/simkeeper/pkg/poll"
	"github.com/devicelab-dev/simkeeper/pkg/simctl"
)

// Control is the subset of simctl the reconciler needs.
type Control interface {
	Install(udid, appPath string, timeout time.Duration) error
	Uninstall(udid, bundleID string, timeout time.Duration) error
}

// InstalledApp is the on-disk record of one installed app.
type InstalledApp struct {
	BundleID   string
	Container  string // container dir holding the .app
	AppDir     string // <Container>/<Name>.app
	Sidecar    string // container metadata plist
	SandboxDir string // data container (modern) or the container itself (legacy)
}

// Reconciler compares and repairs one app's installation on one device.
type Reconciler struct {
	dev   *simctl.Device
	paths layout.Paths
	ctl   Control
	opts  *config.Options

	// queryState defaults to dev.QueryState; split out so the poll
	// loop can be exercised without a live simctl.
	queryState func() (core.DeviceState, error)
}

// New creates a Reconciler for the device, resolving its path layout
// from the device's OS version.
func New(dev *simctl.Device, ctl Control, opts *config.Options) *Reconciler {
	l := layout.ForVersion(dev.OSVersion)
	return &Reconciler{
		dev:        dev,
		paths:      layout.New(dev.Root(), l),
		ctl:        ctl,
		opts:       opts,
		queryState: dev.QueryState,
	}
}

// Paths exposes the resolved path layout (shared with sandbox reset).
func (r *Reconciler) Paths() layout.Paths {
	return r.paths
}

// IsInstalled reports whether a complete install of bundleID exists.
func (r *Reconciler) IsInstalled(bundleID string) (bool, error) {
	app, err := r.LocateInstalled(bundleID)
	if err != nil {
		return false, err
	}
	return app != nil, nil
}

// LocateInstalled scans the device's bundle containers for bundleID.
// Containers missing their sidecar metadata file are partial installs:
// they are healed (deleted, along with any stale data containers for
// the same identifier) and treated as not installed. Returns nil when
// no complete install exists; a missing containers directory (device
// never booted) is not an error.
func (r *Reconciler) LocateInstalled(bundleID string) (*InstalledApp, error) {
	containersDir := r.paths.BundleContainers()
	entries, err := os.ReadDir(containersDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", containersDir, err)
	}

	var found *InstalledApp
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		container := filepath.Join(containersDir, e.Name())
		appDir, id := identifyContainer(container)
		if id != bundleID {
			continue
		}

		sidecar := filepath.Join(container, layout.SidecarName)
		if _, err := os.Stat(sidecar); err != nil {
			logger.Warn("healing partial install of %s: missing %s", bundleID, layout.SidecarName)
			if err := r.heal(bundleID, container); err != nil {
				return nil, err
			}
			continue
		}

		if found != nil {
			// Duplicate complete containers should not happen; keep
			// the first and remove the straggler.
			logger.Warn("duplicate install of %s at %s, removing", bundleID, container)
			if err := r.heal(bundleID, container); err != nil {
				return nil, err
			}
			continue
		}

		found = &InstalledApp{
			BundleID:  bundleID,
			Container: container,
			AppDir:    appDir,
			Sidecar:   sidecar,
		}
	}

	if found == nil {
		return nil, nil
	}

	found.SandboxDir = r.locateSandbox(bundleID, found.Container)
	return found, nil
}

// Install makes sure the device carries the candidate's exact content.
// Fresh devices get a simctl install; devices that already carry the
// app are reconciled by digest instead.
func (r *Reconciler) Install(app *bundle.App) (*InstalledApp, error) {
	installed, err := r.LocateInstalled(app.Identifier)
	if err != nil {
		return nil, err
	}
	if installed != nil {
		return r.reconcileWith(installed, app)
	}
	return r.freshInstall(app)
}

// Reconcile updates an existing install in place when the candidate's
// digest differs. Falls back to a fresh install when nothing is there.
func (r *Reconciler) Reconcile(app *bundle.App) (*InstalledApp, error) {
	installed, err := r.LocateInstalled(app.Identifier)
	if err != nil {
		return nil, err
	}
	if installed == nil {
		return r.freshInstall(app)
	}
	return r.reconcileWith(installed, app)
}

func (r *Reconciler) freshInstall(app *bundle.App) (*InstalledApp, error) {
	logger.Info("fresh install of %s on %s", app.Identifier, r.dev.UDID)
	if err := r.ctl.Install(r.dev.UDID, app.Path, r.opts.InstallTimeout); err != nil {
		return nil, core.ErrInstallFailed.WithCause(err)
	}

	if _, err := poll.Until(func() (bool, error) {
		state, err := r.queryState()
		if err != nil {
			return false, err
		}
		return state.IsStable(), nil
	}, true, poll.Options{
		Timeout:  r.opts.StateWaitTimeout,
		Interval: r.opts.PollInterval,
		Strict:   true,
		What:     "device to stabilize after install",
	}); err != nil {
		return nil, err
	}

	installed, err := r.LocateInstalled(app.Identifier)
	if err != nil {
		return nil, err
	}
	if installed == nil {
		return nil, core.ErrInstallFailed.WithMessage(
			fmt.Sprintf("install of %s reported success but produced no bundle", app.Identifier))
	}
	return installed, nil
}

// reconcileWith is the digest compare. Equal content is a no-op: the
// sandbox must not be touched. Different content replaces the bundle
// directory in place, which deliberately preserves the sandbox so
// tests that depend on persisted state across rebuilds keep working.
func (r *Reconciler) reconcileWith(installed *InstalledApp, app *bundle.App) (*InstalledApp, error) {
	digest, err := bundle.DirDigest(installed.AppDir)
	if err != nil {
		return nil, fmt.Errorf("failed to digest installed bundle: %w", err)
	}
	if digest == app.Digest {
		logger.Debug("installed %s matches candidate digest, nothing to do", app.Identifier)
		return installed, nil
	}

	logger.Info("replacing %s content in place (digest mismatch)", app.Identifier)
	newAppDir, err := replaceBundle(installed, app)
	if err != nil {
		return nil, err
	}
	installed.AppDir = newAppDir

	r.invalidateLaunchServices()
	return installed, nil
}

// replaceBundle stages a copy of the candidate next to the installed
// bundle, removes the old bundle, and renames the copy into place. The
// rename keeps the swap atomic from the caller's point of view.
func replaceBundle(installed *InstalledApp, app *bundle.App) (string, error) {
	staged := filepath.Join(installed.Container, ".staging-"+filepath.Base(app.Path))
	if err := copyTree(app.Path, staged); err != nil {
		os.RemoveAll(staged)
		return "", core.ErrCopyFailed.WithCause(err)
	}

	if err := os.RemoveAll(installed.AppDir); err != nil {
		os.RemoveAll(staged)
		return "", core.ErrCopyFailed.WithCause(err)
	}

	target := filepath.Join(installed.Container, filepath.Base(app.Path))
	if err := os.Rename(staged, target); err != nil {
		return "", core.ErrCopyFailed.WithCause(err)
	}
	return target, nil
}

// heal removes a partial or duplicate container plus any data
// containers recorded for the same bundle identifier.
func (r *Reconciler) heal(bundleID, container string) error {
	if err := os.RemoveAll(container); err != nil {
		return fmt.Errorf("failed to remove partial install %s: %w", container, err)
	}

	dataDir := r.paths.DataContainers()
	if dataDir == "" {
		return nil // legacy: sandbox lived inside the container
	}
	entries, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dc := filepath.Join(dataDir, e.Name())
		if readSidecarID(filepath.Join(dc, layout.SidecarName)) == bundleID {
			logger.Debug("removing stale data container %s", dc)
			if err := os.RemoveAll(dc); err != nil {
				return fmt.Errorf("failed to remove stale data container %s: %w", dc, err)
			}
		}
	}
	return nil
}

// locateSandbox finds the app's data container. Legacy sandboxes are
// the bundle container itself.
func (r *Reconciler) locateSandbox(bundleID, container string) string {
	dataDir := r.paths.DataContainers()
	if dataDir == "" {
		return container
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dc := filepath.Join(dataDir, e.Name())
		if readSidecarID(filepath.Join(dc, layout.SidecarName)) == bundleID {
			return dc
		}
	}
	return ""
}

// invalidateLaunchServices drops the cached launch-services index so
// the replaced binary is recognized on next launch.
func (r *Reconciler) invalidateLaunchServices() {
	matches, err := filepath.Glob(r.paths.LaunchServicesCaches())
	if err != nil {
		return
	}
	for _, m := range matches {
		logger.Debug("removing launch services cache %s", m)
		os.RemoveAll(m)
	}
}

// identifyContainer finds the .app inside a container and reads its
// bundle identifier from Info.plist. Identity comes from the bundle
// itself, not the sidecar, so partial installs without a sidecar can
// still be attributed and healed.
func identifyContainer(container string) (appDir, bundleID string) {
	matches, err := filepath.Glob(filepath.Join(container, "*.app"))
	if err != nil || len(matches) == 0 {
		return "", ""
	}
	appDir = matches[0]
	info, err := bundle.ReadInfoPlist(filepath.Join(appDir, "Info.plist"))
	if err != nil {
		return appDir, ""
	}
	return appDir, info.Identifier
}

// mcmMetadata is the container sidecar schema.
type mcmMetadata struct {
	Identifier string `plist:"MCMMetadataIdentifier"`
}

// readSidecarID returns the bundle identifier recorded in a container
// sidecar, or "" when the sidecar is missing or unreadable.
func readSidecarID(path string) string {
	data, err := os.ReadFile(path) //#nosec G304 -- path is under the device data root
	if err != nil {
		return ""
	}
	var meta mcmMetadata
	if _, err := plist.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return meta.Identifier
}
