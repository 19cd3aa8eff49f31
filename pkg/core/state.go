package core

// DeviceState represents the lifecycle state a simulator reports
type DeviceState int

const (
	StateUnknown      DeviceState = iota // Not reported or unparseable
	StateShutdown                        // Fully shut down
	StateBooting                         // Boot in progress
	StateBooted                          // Booted and schedulable
	StateShuttingDown                    // Shutdown in progress
)

// String returns the simctl representation of the state
func (s DeviceState) String() string {
	switch s {
	case StateShutdown:
		return "Shutdown"
	case StateBooting:
		return "Booting"
	case StateBooted:
		return "Booted"
	case StateShuttingDown:
		return "Shutting Down"
	default:
		return "Unknown"
	}
}

// ParseDeviceState maps a simctl state string to a DeviceState
func ParseDeviceState(s string) DeviceState {
	switch s {
	case "Shutdown":
		return StateShutdown
	case "Booting":
		return StateBooting
	case "Booted":
		return StateBooted
	case "Shutting Down":
		return StateShuttingDown
	default:
		return StateUnknown
	}
}

// IsStable returns true if no boot or shutdown transition is in flight
func (s DeviceState) IsStable() bool {
	return s == StateBooted || s == StateShutdown
}

// ErrorCategory classifies the type of error for retry and reporting decisions
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryInput                           // Bad device/bundle/path; never retried
	ErrCategoryTimeout                         // Polling deadline exceeded
	ErrCategoryTransient                       // External primitive failure; retried with recovery
	ErrCategoryCorruption                      // Partial install state; auto-healed, never surfaced
	ErrCategoryInstall                         // Filesystem failure during reconciliation; fatal
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryInput:
		return "input"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryTransient:
		return "transient"
	case ErrCategoryCorruption:
		return "corruption"
	case ErrCategoryInstall:
		return "install"
	default:
		return "unknown"
	}
}
