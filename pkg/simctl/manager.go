package simctl

import (
	"sync"
	"time"

	"github.com/devicelab-dev/simkeeper/pkg/logger"
)

// Instance tracks a simulator booted by simkeeper. The launch
// orchestrator uses this attribution to decide whether an already
// running simulator can be trusted or must be restarted.
type Instance struct {
	UDID         string
	Name         string
	BootStart    time.Time
	BootDuration time.Duration
}

// Manager records which simulators this process booted.
type Manager struct {
	started sync.Map // UDID -> *Instance
}

// NewManager creates a new simulator manager.
func NewManager() *Manager {
	return &Manager{}
}

// Track records that we booted the given device.
func (m *Manager) Track(dev *Device, bootStart time.Time) {
	m.started.Store(dev.UDID, &Instance{
		UDID:         dev.UDID,
		Name:         dev.Name,
		BootStart:    bootStart,
		BootDuration: time.Since(bootStart),
	})
	logger.Debug("tracking simulator %s (%s)", dev.Name, dev.UDID)
}

// Forget drops tracking for a UDID.
func (m *Manager) Forget(udid string) {
	m.started.Delete(udid)
}

// StartedByUs checks if we booted this simulator.
func (m *Manager) StartedByUs(udid string) bool {
	_, exists := m.started.Load(udid)
	return exists
}

// Tracked returns the UDIDs of all simulators we booted.
func (m *Manager) Tracked() []string {
	var udids []string
	m.started.Range(func(key, _ interface{}) bool {
		udids = append(udids, key.(string))
		return true
	})
	return udids
}
