package core

import (
	"context"
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details.
type ExecutionError struct {
	Category ErrorCategory
	Code     string         // Machine-readable code: element_not_found, timeout, etc.
	Message  string         // Human-readable message
	Details  map[string]any // Additional context
	Cause    error          // Underlying error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError by code, so copies made with
// WithMessage or WithCause still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of the error with a custom message.
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := *e
	c.Message = msg
	return &c
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...any) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details.
func (e *ExecutionError) WithDetails(details map[string]any) *ExecutionError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := *e
	c.Details = merged
	return &c
}

// Predefined errors.
var (
	// Assertion failures
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrElementStillVisible = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_still_visible",
		Message:  "element is still visible",
	}
	ErrConditionNotMet = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "condition_not_met",
		Message:  "condition was not met",
	}
	ErrAssertionFailed = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}

	// Timeouts
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Driver failures
	ErrDriver = &ExecutionError{
		Category: ErrCategoryDriver,
		Code:     "driver_error",
		Message:  "driver command failed",
	}
	ErrNotSupported = &ExecutionError{
		Category: ErrCategoryDriver,
		Code:     "not_supported",
		Message:  "command not supported by driver",
	}
	ErrScriptFailed = &ExecutionError{
		Category: ErrCategoryDriver,
		Code:     "script_failed",
		Message:  "script execution failed",
	}

	// Session loss
	ErrSessionLost = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_lost",
		Message:  "device session lost",
	}
	ErrDeviceDisconnected = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "device_disconnected",
		Message:  "device connection lost",
	}

	// App failures
	ErrAppCrashed = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_crashed",
		Message:  "application crashed",
	}
	ErrAppNotInstalled = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_not_installed",
		Message:  "application is not installed",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
	ErrFlowTooDeep = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "flow_too_deep",
		Message:  "sub-flow nesting too deep",
	}

	// Parse errors
	ErrParse = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "parse_error",
		Message:  "flow could not be parsed",
	}

	// Cancellation
	ErrStopped = &ExecutionError{
		Category: ErrCategoryCancelled,
		Code:     "stopped",
		Message:  "execution stopped",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters.
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Classify returns the category of err. Errors that are not
// ExecutionErrors are treated as driver failures, except context
// cancellation which maps to ErrCategoryCancelled.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	if errors.Is(err, context.Canceled) {
		return ErrCategoryCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryTimeout
	}
	return ErrCategoryDriver
}

// IsSessionLoss reports whether err means the device session is gone.
func IsSessionLoss(err error) bool {
	return Classify(err) == ErrCategorySession
}

// IsAssertion reports whether err is an assertion failure.
func IsAssertion(err error) bool {
	return Classify(err) == ErrCategoryAssertion
}
