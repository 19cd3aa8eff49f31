package simctl

import (
	"testing"
	"time"
)

func TestManager_Tracking(t *testing.T) {
	m := NewManager()
	dev := &Device{UDID: "U-1", Name: "iPhone 15 Pro"}

	if m.StartedByUs("U-1") {
		t.Error("StartedByUs() = true before Track")
	}

	m.Track(dev, time.Now().Add(-3*time.Second))
	if !m.StartedByUs("U-1") {
		t.Error("StartedByUs() = false after Track")
	}

	tracked := m.Tracked()
	if len(tracked) != 1 || tracked[0] != "U-1" {
		t.Errorf("Tracked() = %v", tracked)
	}

	m.Forget("U-1")
	if m.StartedByUs("U-1") {
		t.Error("StartedByUs() = true after Forget")
	}
}
