package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/simkeeper/pkg/config"
	"github.com/devicelab-dev/simkeeper/pkg/core"
	"github.com/devicelab-dev/simkeeper/pkg/install"
	"github.com/devicelab-dev/simkeeper/pkg/layout"
	"github.com/devicelab-dev/simkeeper/pkg/procman"
	"github.com/devicelab-dev/simkeeper/pkg/simctl"
)

const testBundleID = "com.example.myapp"

type fakeLocator struct {
	installed *install.InstalledApp
	paths     layout.Paths
}

func (f *fakeLocator) LocateInstalled(bundleID string) (*install.InstalledApp, error) {
	if f.installed != nil && f.installed.BundleID == bundleID {
		return f.installed, nil
	}
	return nil, nil
}

func (f *fakeLocator) Paths() layout.Paths {
	return f.paths
}

type fakeControl struct {
	shutdowns int
	state     *core.DeviceState
}

func (f *fakeControl) Shutdown(udid string) error {
	f.shutdowns++
	*f.state = core.StateShutdown
	return nil
}

type fakeSupervisor struct {
	terminations int
}

func (f *fakeSupervisor) TerminateAllMatching(list []procman.Managed) error {
	f.terminations++
	return nil
}

func (f *fakeSupervisor) WaitForDisappearance(name string, timeout time.Duration, strict bool) (bool, error) {
	return true, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func testResetter(t *testing.T, loc *fakeLocator, initial core.DeviceState) (*Resetter, *fakeControl, *fakeSupervisor) {
	t.Helper()
	opts := config.Default()
	opts.StateWaitTimeout = 50 * time.Millisecond
	opts.PollInterval = time.Millisecond

	state := initial
	ctl := &fakeControl{state: &state}
	proc := &fakeSupervisor{}
	dev := &simctl.Device{UDID: "U-TEST", Name: "iPhone 15 Pro", OSVersion: "17.2"}

	r := New(dev, ctl, proc, loc, opts)
	r.queryState = func() (core.DeviceState, error) {
		return state, nil
	}
	return r, ctl, proc
}

func TestReset_NotInstalledIsNoop(t *testing.T) {
	r, ctl, proc := testResetter(t, &fakeLocator{}, core.StateBooted)

	if err := r.Reset(testBundleID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if ctl.shutdowns != 0 || proc.terminations != 0 {
		t.Error("Reset() on a device without the app must not touch the simulator")
	}
}

func TestReset_ModernLayout(t *testing.T) {
	root := t.TempDir()
	sandbox := filepath.Join(root, "Containers", "Data", "Application", "BBBB")

	writeFile(t, filepath.Join(sandbox, "Documents", "report.db"), "x")
	writeFile(t, filepath.Join(sandbox, "tmp", "scratch"), "x")
	writeFile(t, filepath.Join(sandbox, "Library", "Foo.plist"), "x")
	writeFile(t, filepath.Join(sandbox, "Library", "Caches", "blob"), "x")
	writeFile(t, filepath.Join(sandbox, "Library", "Preferences", "com.apple.UIAutomation.plist"), "keep")
	writeFile(t, filepath.Join(sandbox, "Library", "Preferences", "com.apple.Accessibility.plist"), "keep")
	writeFile(t, filepath.Join(sandbox, "Library", "Preferences", testBundleID+".plist"), "x")

	loc := &fakeLocator{
		installed: &install.InstalledApp{BundleID: testBundleID, SandboxDir: sandbox},
		paths:     layout.New(root, layout.Modern),
	}
	r, ctl, _ := testResetter(t, loc, core.StateBooted)

	if err := r.Reset(testBundleID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if ctl.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1 (device was booted)", ctl.shutdowns)
	}

	if exists(filepath.Join(sandbox, "Library", "Foo.plist")) {
		t.Error("Library/Foo.plist survived the reset")
	}
	if exists(filepath.Join(sandbox, "Library", "Caches")) {
		t.Error("Library/Caches survived the reset")
	}
	if !exists(filepath.Join(sandbox, "Library", "Preferences", "com.apple.UIAutomation.plist")) {
		t.Error("protected UIAutomation preference was deleted")
	}
	if !exists(filepath.Join(sandbox, "Library", "Preferences", "com.apple.Accessibility.plist")) {
		t.Error("protected Accessibility preference was deleted")
	}
	if exists(filepath.Join(sandbox, "Library", "Preferences", testBundleID+".plist")) {
		t.Error("app preference file survived the reset")
	}

	// Documents and tmp recreated empty.
	for _, dir := range []string{"Documents", "tmp"} {
		entries, err := os.ReadDir(filepath.Join(sandbox, dir))
		if err != nil {
			t.Fatalf("%s not recreated: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Errorf("%s not empty after reset: %v", dir, entries)
		}
	}
}

func TestReset_LegacyLayout(t *testing.T) {
	root := t.TempDir()
	sandbox := filepath.Join(root, "Applications", "LEGACY-1")

	writeFile(t, filepath.Join(sandbox, "Documents", "report.db"), "x")
	writeFile(t, filepath.Join(sandbox, "Library", "Preferences", ".GlobalPreferences.plist"), "keep")
	writeFile(t, filepath.Join(sandbox, "Library", "Preferences", "com.apple.PeoplePicker.plist"), "keep")
	writeFile(t, filepath.Join(sandbox, "Library", "Preferences", "junk.plist"), "x")

	// Device-level preferences, outside the sandbox.
	writeFile(t, filepath.Join(root, "Library", "Preferences", testBundleID+".plist"), "x")
	writeFile(t, filepath.Join(root, "Library", "Preferences", "com.example.other.plist"), "keep")

	loc := &fakeLocator{
		installed: &install.InstalledApp{BundleID: testBundleID, SandboxDir: sandbox},
		paths:     layout.New(root, layout.Legacy),
	}
	r, _, _ := testResetter(t, loc, core.StateShutdown)

	if err := r.Reset(testBundleID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	prefs := filepath.Join(sandbox, "Library", "Preferences")
	if !exists(filepath.Join(prefs, ".GlobalPreferences.plist")) {
		t.Error("global preferences were deleted")
	}
	if !exists(filepath.Join(prefs, "com.apple.PeoplePicker.plist")) {
		t.Error("people-picker preferences were deleted")
	}
	if exists(filepath.Join(prefs, "junk.plist")) {
		t.Error("junk.plist survived the reset")
	}

	if exists(filepath.Join(root, "Library", "Preferences", testBundleID+".plist")) {
		t.Error("device-level app preference survived the reset")
	}
	if !exists(filepath.Join(root, "Library", "Preferences", "com.example.other.plist")) {
		t.Error("another app's device-level preference was deleted")
	}
}

func TestReset_AlreadyShutdownSkipsShutdownCall(t *testing.T) {
	root := t.TempDir()
	sandbox := filepath.Join(root, "Containers", "Data", "Application", "BBBB")
	writeFile(t, filepath.Join(sandbox, "Documents", "f"), "x")

	loc := &fakeLocator{
		installed: &install.InstalledApp{BundleID: testBundleID, SandboxDir: sandbox},
		paths:     layout.New(root, layout.Modern),
	}
	r, ctl, proc := testResetter(t, loc, core.StateShutdown)

	if err := r.Reset(testBundleID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if ctl.shutdowns != 0 {
		t.Errorf("shutdowns = %d, want 0 (already shut down)", ctl.shutdowns)
	}
	// Leftover processes are still swept.
	if proc.terminations != 1 {
		t.Errorf("terminations = %d, want 1", proc.terminations)
	}
}
