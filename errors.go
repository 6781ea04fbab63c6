package fluo

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the state machine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// State was not found in the machine
	ErrCodeStateNotFound
	// Transition is not allowed from current state
	ErrCodeTransitionNotAllowed
	// Guard condition rejected the transition
	ErrCodeGuardRejected
	// Event is invalid for current context
	ErrCodeInvalidEvent
	// Machine is not in started state
	ErrCodeMachineNotStarted
	// Action execution failed
	ErrCodeActionFailed
	// Machine configuration is invalid
	ErrCodeInvalidConfiguration
	// State is in invalid condition
	ErrCodeInvalidState
)

// StateError represents state-related errors
type StateError struct {
	Code    ErrorCode
	StateID string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error [%s]: %s", e.StateID, e.Message)
}

// NewStateNotFoundError creates a new state not found error
func NewStateNotFoundError(stateID string) *StateError {
	return &StateError{
		Code:    ErrCodeStateNotFound,
		StateID: stateID,
		Message: fmt.Sprintf("state '%s' not found", stateID),
	}
}

// TransitionError represents transition-related errors
type TransitionError struct {
	Code   ErrorCode
	From   string
	To     string
	Event  string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition error [%s->%s on %s]: %s", e.From, e.To, e.Event, e.Reason)
}

// NewNoTransitionError creates a new no transition found error
func NewNoTransitionError(from, event string) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeTransitionNotAllowed,
		From:   from,
		Event:  event,
		Reason: fmt.Sprintf("no transition found from state '%s' for event '%s'", from, event),
	}
}

// ConfigurationError represents machine configuration issues.
// Declaration and compilation problems are always reported with this type.
type ConfigurationError struct {
	Component string
	Issue     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Issue)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(component, issue string) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Issue:     issue,
	}
}

// MachineError represents state machine operation errors
type MachineError struct {
	Code      ErrorCode
	Operation string
	Message   string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("machine error during %s: %s", e.Operation, e.Message)
}

// NewMachineNotStartedError creates a new machine not started error
func NewMachineNotStartedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeMachineNotStarted,
		Operation: operation,
		Message:   "state machine is not started",
	}
}

// NewMachineError creates a new machine error
func NewMachineError(code ErrorCode, operation string, message string) *MachineError {
	return &MachineError{
		Code:      code,
		Operation: operation,
		Message:   message,
	}
}

// ActionError represents action execution errors
type ActionError struct {
	Action      string
	State       string
	OriginalErr error
}

func (e *ActionError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("action '%s' failed in state '%s': %v", e.Action, e.State, e.OriginalErr)
	}
	return fmt.Sprintf("action '%s' failed in state '%s'", e.Action, e.State)
}

func (e *ActionError) Unwrap() error {
	return e.OriginalErr
}

// NewActionError creates a new action execution error
func NewActionError(action, state string, err error) *ActionError {
	return &ActionError{
		Action:      action,
		State:       state,
		OriginalErr: err,
	}
}

// IsStateError checks if an error is a StateError
func IsStateError(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	var target *TransitionError
	return errors.As(err, &target)
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsMachineError checks if an error is a MachineError
func IsMachineError(err error) bool {
	var target *MachineError
	return errors.As(err, &target)
}

// IsActionError checks if an error is an ActionError
func IsActionError(err error) bool {
	var target *ActionError
	return errors.As(err, &target)
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	var (
		stateErr      *StateError
		transitionErr *TransitionError
		machineErr    *MachineError
	)
	switch {
	case errors.As(err, &stateErr):
		return stateErr.Code
	case errors.As(err, &transitionErr):
		return transitionErr.Code
	case errors.As(err, &machineErr):
		return machineErr.Code
	case IsConfigurationError(err):
		return ErrCodeInvalidConfiguration
	case IsActionError(err):
		return ErrCodeActionFailed
	default:
		return ErrCodeNone
	}
}
