// Package core provides the execution model types: statuses, the error
// taxonomy and the driver capability interface.
package core

import "fmt"

// FlowStatus is the status of a flow or a suite.
type FlowStatus int

const (
	FlowPending FlowStatus = iota // Not yet started
	FlowRunning                   // Currently executing
	FlowSuccess                   // All commands completed
	FlowWarning                   // Only optional commands failed
	FlowError                     // A non-optional command failed
	FlowStopped                   // Cancelled from outside
)

// String returns the status name used in reports.
func (s FlowStatus) String() string {
	switch s {
	case FlowPending:
		return "PENDING"
	case FlowRunning:
		return "RUNNING"
	case FlowSuccess:
		return "SUCCESS"
	case FlowWarning:
		return "WARNING"
	case FlowError:
		return "ERROR"
	case FlowStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s FlowStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseFlowStatus is the inverse of FlowStatus.String.
func ParseFlowStatus(name string) (FlowStatus, error) {
	for s := FlowPending; s <= FlowStopped; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return FlowPending, fmt.Errorf("unknown flow status %q", name)
}

// IsTerminal returns true once the flow can no longer change status.
func (s FlowStatus) IsTerminal() bool {
	switch s {
	case FlowSuccess, FlowWarning, FlowError, FlowStopped:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed.
// PENDING -> RUNNING -> terminal; a terminal status never changes.
func (s FlowStatus) CanTransition(next FlowStatus) bool {
	switch s {
	case FlowPending:
		return next == FlowRunning || next == FlowStopped
	case FlowRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Worst returns the more severe of a and b.
// STOPPED > ERROR > WARNING > SUCCESS > RUNNING > PENDING.
func Worst(a, b FlowStatus) FlowStatus {
	if b > a {
		return b
	}
	return a
}

// Aggregate folds statuses with Worst. The empty aggregate is SUCCESS.
func Aggregate(statuses ...FlowStatus) FlowStatus {
	result := FlowSuccess
	for _, s := range statuses {
		result = Worst(result, s)
	}
	return result
}

// CommandStatus is the status of a single command outcome.
type CommandStatus int

const (
	CommandPending        CommandStatus = iota // Not yet started
	CommandRunning                             // Currently executing
	CommandCompleted                           // Succeeded
	CommandWarned                              // Optional command failed
	CommandFailed                              // Non-optional command failed
	CommandSkipped                             // Never executed (abort or stop)
	CommandConditionUnmet                      // when-condition evaluated false
)

// String returns the status name used in reports.
func (s CommandStatus) String() string {
	switch s {
	case CommandPending:
		return "PENDING"
	case CommandRunning:
		return "RUNNING"
	case CommandCompleted:
		return "COMPLETED"
	case CommandWarned:
		return "WARNED"
	case CommandFailed:
		return "FAILED"
	case CommandSkipped:
		return "SKIPPED"
	case CommandConditionUnmet:
		return "CONDITION_UNMET"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CommandStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true if the status is final.
func (s CommandStatus) IsTerminal() bool {
	return s != CommandPending && s != CommandRunning
}

// FlowStatus maps the command status onto the flow scale.
func (s CommandStatus) FlowStatus() FlowStatus {
	switch s {
	case CommandWarned:
		return FlowWarning
	case CommandFailed:
		return FlowError
	case CommandPending:
		return FlowPending
	case CommandRunning:
		return FlowRunning
	default:
		return FlowSuccess
	}
}

// ErrorCategory classifies failures for reporting and abort decisions.
type ErrorCategory int

const (
	ErrCategoryNone      ErrorCategory = iota // No error
	ErrCategoryAssertion                      // Element not found, condition false
	ErrCategoryTimeout                        // Operation timed out
	ErrCategoryDriver                         // Platform or transport failure, recoverable
	ErrCategorySession                        // Device session lost, always fatal
	ErrCategoryApp                            // App crashed or not installed
	ErrCategoryConfig                         // Invalid command parameters
	ErrCategoryParse                          // Flow file could not be parsed
	ErrCategoryCancelled                      // Stopped from outside
)

// String returns the string representation of ErrorCategory.
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryDriver:
		return "driver"
	case ErrCategorySession:
		return "session"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryParse:
		return "parse"
	case ErrCategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category by name.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
