package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveConnection indicates that the push channel to the runner is down,
	// so a run could not report its progress back to the session
	ErrNoActiveConnection = errors.New("no active connection to the runner")

	// ErrUnknownNode indicates that a node referenced by the caller is not part of the workflow
	ErrUnknownNode = errors.New("unknown node")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCircuitOpen indicates that submissions are being rejected after repeated failures
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ErrorType classifies an AppError
type ErrorType int

const (
	Internal ErrorType = iota
	NotFound
	BadRequest
	Unauthorized
	Conflict
	ValidationFailed
	Unavailable
)

// String returns the lower-case name of the error type
func (t ErrorType) String() string {
	switch t {
	case Internal:
		return "internal"
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case ValidationFailed:
		return "validation_failed"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error codes used across the SDK
const (
	CodeNoActiveConnection  = "NO_ACTIVE_CONNECTION"
	CodeSubmitNetworkFailed = "SUBMIT_NETWORK_FAILED"
	CodeSubmitServerFailed  = "SUBMIT_SERVER_FAILED"
	CodePersistFailed       = "PERSIST_FAILED"
	CodePlanFailed          = "PLAN_FAILED"
	CodeUnknownNode         = "UNKNOWN_NODE"
	CodeNotConnected        = "NOT_CONNECTED"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
)

// AppError represents a structured SDK error
type AppError struct {
	// Type is the error classification
	Type ErrorType

	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// CorrelationID ties the error to a dispatch attempt, if any
	CorrelationID string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(t ErrorType, correlationID, message, code string, err error) *AppError {
	return &AppError{
		Type:          t,
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Err:           err,
	}
}

// NewInternalError creates an Internal error
func NewInternalError(correlationID, message, code string, err error) *AppError {
	return newAppError(Internal, correlationID, message, code, err)
}

// NewNotFoundError creates a NotFound error
func NewNotFoundError(message, code string, err error) *AppError {
	return newAppError(NotFound, "", message, code, err)
}

// NewBadRequestError creates a BadRequest error
func NewBadRequestError(message, code string, err error) *AppError {
	return newAppError(BadRequest, "", message, code, err)
}

// NewUnauthorizedError creates an Unauthorized error
func NewUnauthorizedError(message, code string, err error) *AppError {
	return newAppError(Unauthorized, "", message, code, err)
}

// NewConflictError creates a Conflict error
func NewConflictError(message, code string, err error) *AppError {
	return newAppError(Conflict, "", message, code, err)
}

// NewValidationError creates a ValidationFailed error
func NewValidationError(message, code string, err error) *AppError {
	return newAppError(ValidationFailed, "", message, code, err)
}

// NewUnavailableError creates an Unavailable error
func NewUnavailableError(message, code string, err error) *AppError {
	return newAppError(Unavailable, "", message, code, err)
}

// NewNetworkError wraps a transport failure that happened while submitting a run
func NewNetworkError(correlationID string, err error) *AppError {
	return newAppError(Unavailable, correlationID, "failed to reach the runner", CodeSubmitNetworkFailed, err)
}

// NewServerError wraps a failure reported by the runner itself
func NewServerError(correlationID, message string) *AppError {
	return newAppError(Internal, correlationID, "runner rejected the run", CodeSubmitServerFailed, errors.New(message))
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNoActiveConnection checks if an error is the missing push connection precondition
func IsNoActiveConnection(err error) bool {
	return errors.Is(err, ErrNoActiveConnection) || hasCode(err, CodeNoActiveConnection)
}

// IsNetworkError checks if an error is a transport failure during submission
func IsNetworkError(err error) bool {
	return hasCode(err, CodeSubmitNetworkFailed)
}

// IsServerError checks if an error was reported by the runner
func IsServerError(err error) bool {
	return hasCode(err, CodeSubmitServerFailed)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || hasCode(err, CodeNotConnected)
}

// IsCircuitOpen checks if a submission was refused by the circuit breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
