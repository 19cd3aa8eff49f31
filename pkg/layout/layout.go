// Package layout resolves the on-disk container layout for a device.
// iOS 8 moved app bundles and their sandboxes into separate container
// trees; everything path-related branches on that once, here, instead
// of ad hoc version checks in the callers.
package layout

import (
	"path/filepath"

	"github.com/Masterminds/semver"

	"github.com/devicelab-dev/simkeeper/pkg/logger"
)

// Layout selects between the pre-iOS-8 and modern directory layouts.
type Layout int

const (
	Legacy Layout = iota // data/Applications/<id>, bundle and sandbox share a dir
	Modern               // data/Containers/{Bundle,Data}/Application/<id>
)

// String returns the layout name.
func (l Layout) String() string {
	if l == Legacy {
		return "legacy"
	}
	return "modern"
}

// SidecarName is the per-container metadata file naming the container's
// bundle identifier. Its absence marks a partial install.
const SidecarName = ".com.apple.mobile_container_manager.metadata.plist"

// ForVersion resolves the layout for a platform version string like
// "17.2". Unparseable versions get Modern; only ancient runtimes use
// the legacy layout.
func ForVersion(osVersion string) Layout {
	v, err := semver.NewVersion(osVersion)
	if err != nil {
		logger.Debug("unparseable OS version %q, assuming modern layout", osVersion)
		return Modern
	}
	if v.Major() >= 8 {
		return Modern
	}
	return Legacy
}

// Paths resolves container paths against one device's data root.
type Paths struct {
	Root   string
	Layout Layout
}

// New creates a Paths for the given device data root and layout.
func New(root string, l Layout) Paths {
	return Paths{Root: root, Layout: l}
}

// BundleContainers returns the directory whose children are app bundle
// containers.
func (p Paths) BundleContainers() string {
	if p.Layout == Legacy {
		return filepath.Join(p.Root, "Applications")
	}
	return filepath.Join(p.Root, "Containers", "Bundle", "Application")
}

// DataContainers returns the directory whose children are app sandbox
// containers. Empty for the legacy layout, where the bundle container
// doubles as the sandbox.
func (p Paths) DataContainers() string {
	if p.Layout == Legacy {
		return ""
	}
	return filepath.Join(p.Root, "Containers", "Data", "Application")
}

// DevicePreferences returns the device-level preferences directory,
// outside any app sandbox.
func (p Paths) DevicePreferences() string {
	return filepath.Join(p.Root, "Library", "Preferences")
}

// LaunchServicesCaches returns the glob matching the cached launch
// services index files under the device root.
func (p Paths) LaunchServicesCaches() string {
	return filepath.Join(p.Root, "Library", "Caches", "com.apple.LaunchServices*")
}
