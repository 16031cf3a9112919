// Package errors is the error taxonomy shared by the services. Domain code
// returns *AppError values; transports map them onto status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels. Every AppError wraps one of them so callers can branch with
// errors.Is whatever the message says.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrAlreadyExists       = errors.New("resource already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = errors.New("conflict")
	ErrServiceUnavail      = errors.New("service unavailable")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrGatewayDeclined     = errors.New("gateway declined")
	ErrGatewayUnavailable  = errors.New("gateway unavailable")
)

// AppError carries a stable machine-readable code, a message safe to show
// to callers and the HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newError(status int, code string, cause error, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Status: status, Err: cause}
}

func NotFound(resource, id string) *AppError {
	return newError(http.StatusNotFound, "NOT_FOUND", ErrNotFound, "%s with id %s not found", resource, id)
}

func AlreadyExists(resource, field, value string) *AppError {
	return newError(http.StatusConflict, "ALREADY_EXISTS", ErrAlreadyExists, "%s with %s %q already exists", resource, field, value)
}

func InvalidInput(message string) *AppError {
	return newError(http.StatusBadRequest, "INVALID_INPUT", ErrInvalidInput, "%s", message)
}

// Internal hides err behind a generic message; err is kept for logging.
func Internal(err error) *AppError {
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", err, "an internal error occurred")
}

// ServiceUnavailable reports a platform dependency that cannot be reached.
func ServiceUnavailable(message string) *AppError {
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ErrServiceUnavail, "%s", message)
}

func Unauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized, "%s", message)
}

// InsufficientStock reports a movement or reservation that would take a
// stock level below zero.
func InsufficientStock(key string, requested, available int) *AppError {
	return newError(http.StatusConflict, "INSUFFICIENT_STOCK", ErrInsufficientStock,
		"insufficient stock for %s: requested %d, available %d", key, requested, available)
}

// InvalidStateTransition reports a move a state machine does not allow.
func InvalidStateTransition(entity, from, to string) *AppError {
	return newError(http.StatusConflict, "INVALID_STATE_TRANSITION", ErrInvalidTransition,
		"%s cannot move from %q to %q", entity, from, to)
}

// ConcurrencyConflict reports that a row changed underneath the caller. The
// operation can be retried from the start.
func ConcurrencyConflict(err error) *AppError {
	return newError(http.StatusConflict, "CONCURRENCY_CONFLICT", fmt.Errorf("%w: %w", ErrConcurrencyConflict, err),
		"the resource was modified concurrently, retry the operation")
}

// GatewayDeclined is a terminal refusal from a payment processor.
func GatewayDeclined(processor, reason string) *AppError {
	return newError(http.StatusPaymentRequired, "GATEWAY_DECLINED", ErrGatewayDeclined,
		"%s declined the request: %s", processor, reason)
}

// GatewayUnavailable covers network failures, timeouts and open circuits
// towards a payment processor.
func GatewayUnavailable(processor string, err error) *AppError {
	return newError(http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", fmt.Errorf("%w: %w", ErrGatewayUnavailable, err),
		"%s is unavailable", processor)
}

var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrGatewayDeclined, http.StatusPaymentRequired},
	{ErrAlreadyExists, http.StatusConflict},
	{ErrConflict, http.StatusConflict},
	{ErrInsufficientStock, http.StatusConflict},
	{ErrInvalidTransition, http.StatusConflict},
	{ErrConcurrencyConflict, http.StatusConflict},
	{ErrGatewayUnavailable, http.StatusServiceUnavailable},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// HTTPStatus maps err onto a status: an AppError's own status, else the
// status of the first sentinel it wraps, else 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
