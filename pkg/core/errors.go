package core

import (
	"errors"
	"fmt"
)

// LifecycleError represents a structured error with category and details
type LifecycleError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: timeout, not_a_simulator, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *LifecycleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *LifecycleError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error with the given cause
func (e *LifecycleError) WithCause(cause error) *LifecycleError {
	return &LifecycleError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *LifecycleError) WithMessage(msg string) *LifecycleError {
	return &LifecycleError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// Is matches two LifecycleErrors by category and code, so that
// errors.Is(err, ErrTimeout) works on wrapped copies.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// Predefined errors
var (
	// Input errors: surfaced immediately, never retried.
	ErrNotASimulator = &LifecycleError{
		Category: ErrCategoryInput,
		Code:     "not_a_simulator",
		Message:  "device is a physical device, not a simulator",
	}
	ErrInvalidBundle = &LifecycleError{
		Category: ErrCategoryInput,
		Code:     "invalid_bundle",
		Message:  "path is not a valid app bundle",
	}
	ErrDeviceNotFound = &LifecycleError{
		Category: ErrCategoryInput,
		Code:     "device_not_found",
		Message:  "no simulator matches the given identifier",
	}

	// Timeout errors: strict waits surface these, lenient waits degrade
	// to a boolean false.
	ErrTimeout = &LifecycleError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Transient errors: retried with a recovery action in between.
	ErrLaunchFailed = &LifecycleError{
		Category: ErrCategoryTransient,
		Code:     "launch_failed",
		Message:  "app launch failed",
	}

	// Install errors: filesystem failures during reconciliation are
	// never retried.
	ErrInstallFailed = &LifecycleError{
		Category: ErrCategoryInstall,
		Code:     "install_failed",
		Message:  "app installation failed",
	}
	ErrCopyFailed = &LifecycleError{
		Category: ErrCategoryInstall,
		Code:     "copy_failed",
		Message:  "bundle content copy failed",
	}
)

// NewLifecycleError creates a new LifecycleError with the given parameters
func NewLifecycleError(category ErrorCategory, code, message string) *LifecycleError {
	return &LifecycleError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// IsTimeout reports whether err is (or wraps) a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsInput reports whether err is (or wraps) an input error.
func IsInput(err error) bool {
	var le *LifecycleError
	if !errors.As(err, &le) {
		return false
	}
	return le.Category == ErrCategoryInput
}
