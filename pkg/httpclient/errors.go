package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
)

// errorEnvelope is the error half of the JSON envelope platform services
// answer with.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response from service and
// turns it into an error. A body in the platform envelope keeps its code and
// maps onto the matching sentinel; anything else becomes a plain error
// carrying the status and the raw body.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", service, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(raw, &env) != nil || env.Error == nil {
		return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, raw)
	}
	return fromEnvelope(resp.StatusCode, env.Error.Code, env.Error.Message, service)
}

func fromEnvelope(status int, code, message, service string) error {
	qualified := service + ": " + message

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(service, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return conflictFromCode(code, qualified)
	case status == http.StatusPaymentRequired:
		return &apperrors.AppError{Code: code, Message: qualified, Status: status, Err: apperrors.ErrGatewayDeclined}
	case status == http.StatusServiceUnavailable:
		return &apperrors.AppError{Code: code, Message: qualified, Status: status, Err: apperrors.ErrServiceUnavail}
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%s server error (%d/%s): %s", service, status, code, message)
	}
	return &apperrors.AppError{Code: code, Message: qualified, Status: status}
}

// conflictFromCode keeps the specific 409 flavour so callers can still branch
// on insufficient stock or an illegal transition reported by another service.
func conflictFromCode(code, message string) *apperrors.AppError {
	sentinel := apperrors.ErrConflict
	switch code {
	case "INSUFFICIENT_STOCK":
		sentinel = apperrors.ErrInsufficientStock
	case "INVALID_STATE_TRANSITION":
		sentinel = apperrors.ErrInvalidTransition
	case "CONCURRENCY_CONFLICT":
		sentinel = apperrors.ErrConcurrencyConflict
	case "ALREADY_EXISTS":
		sentinel = apperrors.ErrAlreadyExists
	case "", "CONFLICT":
		code = "CONFLICT"
	}
	return &apperrors.AppError{Code: code, Message: message, Status: http.StatusConflict, Err: sentinel}
}
