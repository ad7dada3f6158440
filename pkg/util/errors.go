// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for command and transport failures. REST handlers map these
// to the error_code field of OperationResult via ErrorCode.
var (
	ErrUnknownEntity      = errors.New("unknown entity")
	ErrUnsupportedCommand = errors.New("command not supported by entity")
	ErrInvalidParameter   = errors.New("invalid command parameter")
	ErrEntityUnavailable  = errors.New("entity unavailable")
	ErrInterfaceDown      = errors.New("interface down")
	ErrTxFailed           = errors.New("transmit failed")
	ErrTxTimeout          = errors.New("transmit timeout")
	ErrNotFound           = errors.New("resource not found")
	ErrValidationFailed   = errors.New("validation failed")
)

// ErrorCode returns the wire error code for a command failure, or "" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownEntity):
		return "UNKNOWN_ENTITY"
	case errors.Is(err, ErrUnsupportedCommand):
		return "UNSUPPORTED_COMMAND"
	case errors.Is(err, ErrInvalidParameter):
		return "INVALID_PARAMETER"
	case errors.Is(err, ErrEntityUnavailable):
		return "ENTITY_UNAVAILABLE"
	case errors.Is(err, ErrInterfaceDown):
		return "INTERFACE_DOWN"
	case errors.Is(err, ErrTxTimeout):
		return "TX_TIMEOUT"
	case errors.Is(err, ErrTxFailed):
		return "TX_FAILED"
	default:
		return "INTERNAL"
	}
}

// CommandError wraps a command failure with entity context.
type CommandError struct {
	EntityID string
	Command  string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command '%s' on entity '%s': %v", e.Command, e.EntityID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a command error
func NewCommandError(entityID, command string, err error) *CommandError {
	return &CommandError{EntityID: entityID, Command: command, Err: err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
