package simctl

import (
	"testing"

	"github.com/devicelab-dev/simkeeper/pkg/core"
)

func TestParseList(t *testing.T) {
	output := []byte(`{
  "devices": {
    "com.apple.CoreSimulator.SimRuntime.iOS-17-2": [
      {
        "name": "iPhone 15 Pro",
        "udid": "A1B2C3D4-E5F6-7890-ABCD-EF1234567890",
        "state": "Booted",
        "dataPath": "/Users/ci/Library/Developer/CoreSimulator/Devices/A1B2C3D4/data",
        "isAvailable": true
      },
      {
        "name": "iPhone 15",
        "udid": "FFFFFFFF-0000-0000-0000-000000000000",
        "state": "Shutdown",
        "isAvailable": false
      }
    ],
    "com.apple.CoreSimulator.SimRuntime.iOS-7-1": [
      {
        "name": "iPhone 4s",
        "udid": "00000000-1111-2222-3333-444444444444",
        "state": "Shutdown",
        "isAvailable": true
      }
    ]
  }
}`)

	devs, err := parseList(output)
	if err != nil {
		t.Fatalf("parseList() error = %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("parseList() returned %d devices, want 2 (unavailable excluded)", len(devs))
	}

	byUDID := map[string]Device{}
	for _, d := range devs {
		byUDID[d.UDID] = d
	}

	pro := byUDID["A1B2C3D4-E5F6-7890-ABCD-EF1234567890"]
	if pro.Name != "iPhone 15 Pro" {
		t.Errorf("Name = %q", pro.Name)
	}
	if pro.OSVersion != "17.2" {
		t.Errorf("OSVersion = %q, want 17.2", pro.OSVersion)
	}
	if pro.State != core.StateBooted {
		t.Errorf("State = %v, want Booted", pro.State)
	}
	if pro.DataPath == "" {
		t.Error("DataPath not captured")
	}

	legacy := byUDID["00000000-1111-2222-3333-444444444444"]
	if legacy.OSVersion != "7.1" {
		t.Errorf("OSVersion = %q, want 7.1", legacy.OSVersion)
	}
}

func TestParseList_Invalid(t *testing.T) {
	if _, err := parseList([]byte("not json")); err == nil {
		t.Error("parseList() with garbage: error = nil")
	}
}

func TestExtractOSVersion(t *testing.T) {
	tests := []struct {
		runtime string
		want    string
	}{
		{"com.apple.CoreSimulator.SimRuntime.iOS-17-2", "17.2"},
		{"com.apple.CoreSimulator.SimRuntime.iOS-7-1", "7.1"},
		{"com.apple.CoreSimulator.SimRuntime.watchOS-10-0", "10.0"},
		{"com.apple.CoreSimulator.SimRuntime.tvOS-17-0", "17.0"},
		{"bogus", ""},
	}
	for _, tt := range tests {
		t.Run(tt.runtime, func(t *testing.T) {
			if got := extractOSVersion(tt.runtime); got != tt.want {
				t.Errorf("extractOSVersion(%q) = %q, want %q", tt.runtime, got, tt.want)
			}
		})
	}
}

func TestDeviceRef_ByDevice(t *testing.T) {
	dev := &Device{UDID: "X", Name: "iPhone 15"}
	got, err := ByDevice(dev).Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != dev {
		t.Error("Resolve() should return the wrapped device")
	}
}

func TestPhysicalUDIDShape(t *testing.T) {
	tests := []struct {
		ident string
		want  bool
	}{
		{"0123456789abcdef0123456789abcdef01234567", true}, // 40-hex classic
		{"00008110-000A1B2C3D4E5F60", true},                // modern dashed
		{"A1B2C3D4-E5F6-7890-ABCD-EF1234567890", false},    // simulator UDID
		{"iPhone 15 Pro", false},
	}
	for _, tt := range tests {
		t.Run(tt.ident, func(t *testing.T) {
			if got := physicalUDID.MatchString(tt.ident); got != tt.want {
				t.Errorf("physicalUDID.MatchString(%q) = %v, want %v", tt.ident, got, tt.want)
			}
		})
	}
}

func TestDevice_Root(t *testing.T) {
	withPath := &Device{UDID: "X", DataPath: "/tmp/devroot/data"}
	if withPath.Root() != "/tmp/devroot/data" {
		t.Errorf("Root() = %q", withPath.Root())
	}

	withoutPath := &Device{UDID: "X"}
	if withoutPath.Root() == "" {
		t.Error("Root() fallback is empty")
	}
}
