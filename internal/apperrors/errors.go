package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrUnauthorized indicates missing or invalid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden indicates the caller may not perform the action.
var ErrForbidden = errors.New("forbidden")

// ErrInternal is a generic internal failure that must not leak details to clients.
var ErrInternal = errors.New("internal error")

// Settlement taxonomy.
var (
	// ErrInsufficientFunds is terminal and user visible. Never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountLocked is returned when reserving against a locked or deactivated account.
	ErrAccountLocked = errors.New("account locked")

	// ErrConflict is an optimistic-concurrency collision that survived the bounded retries.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrGatewayTimeout is non-terminal: the transaction stays pending and reconciliation resolves it.
	ErrGatewayTimeout = errors.New("gateway timeout")

	// ErrGatewayRejected is terminal: the processor refused the operation.
	ErrGatewayRejected = errors.New("gateway rejected the operation")

	// ErrGatewayUnavailable means the processor could not be reached at all; nothing was applied.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrInvalidCallbackSignature rejects an unverifiable webhook at the boundary.
	ErrInvalidCallbackSignature = errors.New("invalid callback signature")

	// ErrIdempotencyInProgress is returned when a duplicate request waited too long for the original.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is still in progress")

	// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different payload")

	// ErrInvalidTransition is returned when a state change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid transaction state transition")

	// ErrCancelNotAllowed is returned when cancelling after the external call was issued.
	ErrCancelNotAllowed = errors.New("transaction can no longer be cancelled")
)

// AppError carries an HTTP status code alongside a wrapped cause.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewValidationError wraps ErrValidation with a message.
func NewValidationError(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrValidation)
}

// NewNotFoundError wraps ErrNotFound with a message.
func NewNotFoundError(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

// NewConflictError wraps ErrConflict with a message.
func NewConflictError(message string) *AppError {
	return NewAppError(http.StatusConflict, message, ErrConflict)
}

// NewInternalServerError wraps an unexpected failure.
func NewInternalServerError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, message, err)
}

// HTTPStatus maps an error chain to the status code exposed by the API layer.
func HTTPStatus(err error) int {
	var appErr *AppError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrIdempotencyInProgress),
		errors.Is(err, ErrCancelNotAllowed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrIdempotencyMismatch),
		errors.Is(err, ErrGatewayRejected),
		errors.Is(err, ErrAccountLocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidCallbackSignature), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrGatewayTimeout):
		return http.StatusAccepted
	case errors.As(err, &appErr):
		return appErr.Code
	default:
		return http.StatusInternalServerError
	}
}
