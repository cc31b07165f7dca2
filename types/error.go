package types

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// History error codes
const (
	ErrInvalidEventKind  ErrorCode = "INVALID_EVENT_KIND"
	ErrPartialCheckpoint ErrorCode = "PARTIAL_CHECKPOINT"
	ErrSequenceNotFound  ErrorCode = "SEQUENCE_NOT_FOUND"
	ErrInvalidState      ErrorCode = "INVALID_STATE"
	ErrAgentRestore      ErrorCode = "AGENT_RESTORE"
	ErrBranchNotFound    ErrorCode = "BRANCH_NOT_FOUND"
)

// Service error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	ErrSnapshotNotFound   ErrorCode = "SNAPSHOT_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WrapError wraps err with a code unless it already carries one.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
// The outermost coded error in the chain wins.
func GetErrorCode(err error) ErrorCode {
	code, _ := codeOf(err)
	return code
}

func codeOf(err error) (ErrorCode, bool) {
	switch e := err.(type) {
	case nil:
		return "", false
	case *Error:
		return e.Code, true
	case interface{ ErrorCode() ErrorCode }:
		return e.ErrorCode(), true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return codeOf(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, next := range u.Unwrap() {
			if code, ok := codeOf(next); ok {
				return code, true
			}
		}
	}
	return "", false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// =============================================================================
// Capture and restore failures
// =============================================================================

// AgentFailure pairs an agent with the error it produced.
type AgentFailure struct {
	AgentID string
	Err     error
}

// PartialCheckpointError is returned when at least one agent could not be
// serialized. No checkpoint is recorded for Sequence.
type PartialCheckpointError struct {
	Sequence Sequence
	Failures []AgentFailure
}

// NewPartialCheckpointError builds the error with failures sorted by agent.
func NewPartialCheckpointError(seq Sequence, failures []AgentFailure) *PartialCheckpointError {
	sorted := append([]AgentFailure(nil), failures...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })
	return &PartialCheckpointError{Sequence: seq, Failures: sorted}
}

func (e *PartialCheckpointError) Error() string {
	return fmt.Sprintf("[%s] checkpoint at sequence %d failed for agents %s",
		ErrPartialCheckpoint, e.Sequence, strings.Join(e.Agents(), ", "))
}

// Agents returns the ids of the failing agents.
func (e *PartialCheckpointError) Agents() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.AgentID
	}
	return ids
}

// ErrorCode implements the coded error contract.
func (e *PartialCheckpointError) ErrorCode() ErrorCode { return ErrPartialCheckpoint }

// Unwrap exposes the per-agent causes.
func (e *PartialCheckpointError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// AgentRestoreError is returned when reseeding an agent from a blob fails.
// RolledBack reports whether every touched agent was put back.
type AgentRestoreError struct {
	AgentID     string
	Sequence    Sequence
	Cause       error
	RollbackErr error
}

func (e *AgentRestoreError) Error() string {
	msg := fmt.Sprintf("[%s] restore of agent %s at sequence %d failed: %v",
		ErrAgentRestore, e.AgentID, e.Sequence, e.Cause)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback: %v)", e.RollbackErr)
	}
	return msg
}

// RolledBack reports whether the pre-attempt state was fully restored.
func (e *AgentRestoreError) RolledBack() bool { return e.RollbackErr == nil }

// ErrorCode implements the coded error contract.
func (e *AgentRestoreError) ErrorCode() ErrorCode { return ErrAgentRestore }

func (e *AgentRestoreError) Unwrap() error { return e.Cause }

// HTTPStatusFor maps an error code to the HTTP status used by the API.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrInvalidEventKind:
		return http.StatusBadRequest
	case ErrAuthentication, ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrSequenceNotFound, ErrBranchNotFound, ErrSnapshotNotFound:
		return http.StatusNotFound
	case ErrInvalidState:
		return http.StatusConflict
	case ErrPartialCheckpoint, ErrAgentRestore:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrServiceUnavailable, ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
