// Package simctl wraps the xcrun simctl utility: device listing and
// resolution, boot/shutdown, erase, and app install/uninstall/launch.
package simctl

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/devicelab-dev/simkeeper/pkg/core"
	"github.com/devicelab-dev/simkeeper/pkg/logger"
)

// Device is a read-mostly snapshot of one simulator. State is only as
// fresh as the last List or Refresh call.
type Device struct {
	Name        string // e.g., "iPhone 15 Pro"
	UDID        string // e.g., "A1B2C3D4-E5F6-..."
	Runtime     string // e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-2"
	OSVersion   string // e.g., "17.2" (extracted from Runtime)
	State       core.DeviceState
	DataPath    string // per-device data root from simctl list
	IsAvailable bool
}

// Root returns the device's data directory root.
func (d *Device) Root() string {
	if d.DataPath != "" {
		return d.DataPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Developer", "CoreSimulator", "Devices", d.UDID, "data")
}

// Refresh re-queries the device's current state from simctl.
func (d *Device) Refresh() error {
	devs, err := List()
	if err != nil {
		return err
	}
	for i := range devs {
		if devs[i].UDID == d.UDID {
			d.State = devs[i].State
			d.DataPath = devs[i].DataPath
			return nil
		}
	}
	return core.ErrDeviceNotFound.WithMessage("simulator disappeared: " + d.UDID)
}

// QueryState refreshes and returns the current device state.
func (d *Device) QueryState() (core.DeviceState, error) {
	if err := d.Refresh(); err != nil {
		return core.StateUnknown, err
	}
	return d.State, nil
}

// DeviceRef is either a raw identifier (UDID or name) or an already
// resolved Device. Callers resolve once at the boundary so the core
// only ever sees a Device.
type DeviceRef struct {
	ident string
	dev   *Device
}

// ByIdentifier makes a DeviceRef from a UDID or simulator name.
func ByIdentifier(ident string) DeviceRef {
	return DeviceRef{ident: ident}
}

// ByDevice makes a DeviceRef from an already resolved device.
func ByDevice(d *Device) DeviceRef {
	return DeviceRef{dev: d}
}

// physicalUDID matches the UDID shapes of physical iOS devices
// (40 hex chars, or the newer 8-4 dashed form).
var physicalUDID = regexp.MustCompile(`^([0-9a-f]{40}|[0-9A-F]{8}-[0-9A-F]{16})$`)

// Resolve turns the ref into a Device. Identifiers that match a
// physical device's UDID shape are rejected outright: everything this
// tool does assumes a simulator's process tree and data directory.
func (r DeviceRef) Resolve() (*Device, error) {
	if r.dev != nil {
		return r.dev, nil
	}

	devs, err := List()
	if err != nil {
		return nil, err
	}

	identLower := strings.ToLower(r.ident)
	for i := range devs {
		if devs[i].UDID == r.ident || strings.ToLower(devs[i].Name) == identLower {
			return &devs[i], nil
		}
	}

	if physicalUDID.MatchString(r.ident) {
		return nil, core.ErrNotASimulator.WithMessage(
			fmt.Sprintf("%s looks like a physical device UDID; simkeeper only manages simulators", r.ident))
	}
	return nil, core.ErrDeviceNotFound.WithMessage("no simulator matches " + r.ident)
}

// FindSimctlBinary verifies that xcrun/simctl is available.
func FindSimctlBinary() (string, error) {
	path, err := exec.LookPath("xcrun")
	if err != nil {
		return "", fmt.Errorf("xcrun not found; install Xcode Command Line Tools: xcode-select --install")
	}
	return path, nil
}

// listOutput represents the JSON output from xcrun simctl list devices.
type listOutput struct {
	Devices map[string][]listDevice `json:"devices"`
}

type listDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	DataPath    string `json:"dataPath"`
	IsAvailable bool   `json:"isAvailable"`
}

// List returns all available simulators.
func List() ([]Device, error) {
	if _, err := FindSimctlBinary(); err != nil {
		return nil, err
	}

	cmd := exec.Command("xcrun", "simctl", "list", "devices", "available", "-j")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list simulators: %w", err)
	}

	return parseList(output)
}

func parseList(output []byte) ([]Device, error) {
	var data listOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, fmt.Errorf("failed to parse simctl output: %w", err)
	}

	var devs []Device
	for runtime, devices := range data.Devices {
		osVersion := extractOSVersion(runtime)
		for _, dev := range devices {
			if !dev.IsAvailable {
				continue
			}
			devs = append(devs, Device{
				Name:        dev.Name,
				UDID:        dev.UDID,
				Runtime:     runtime,
				OSVersion:   osVersion,
				State:       core.ParseDeviceState(dev.State),
				DataPath:    dev.DataPath,
				IsAvailable: dev.IsAvailable,
			})
		}
	}

	logger.Debug("found %d available simulators", len(devs))
	return devs, nil
}

// extractOSVersion extracts version from runtime string.
// e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-2" -> "17.2"
func extractOSVersion(runtime string) string {
	for _, prefix := range []string{"iOS-", "watchOS-", "tvOS-", "xrOS-"} {
		idx := strings.LastIndex(runtime, prefix)
		if idx != -1 {
			version := runtime[idx+len(prefix):]
			return strings.ReplaceAll(version, "-", ".")
		}
	}
	return ""
}
