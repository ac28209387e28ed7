package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrConflict    ErrorCode = "CONFLICT"
	ErrUnavailable ErrorCode = "UNAVAILABLE"
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the debug API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION_ERROR APIError.
func NewValidationError(msg string) *APIError {
	return &APIError{Code: ErrValidation, Message: msg}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// ContractViolation describes a call the embedder was not allowed to make in
// the current state. It is raised with panic, never returned: it signals a bug
// in the caller rather than a runtime condition.
type ContractViolation struct {
	Op     string
	State  string
	Reason string
}

func (e *ContractViolation) Error() string {
	if e.State == "" {
		return fmt.Sprintf("contract violation in %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("contract violation in %s (state %s): %s", e.Op, e.State, e.Reason)
}

// Violation panics with a *ContractViolation.
func Violation(op, state, reason string) {
	panic(&ContractViolation{Op: op, State: state, Reason: reason})
}
