package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"decodelm/pkg/model"
)

// ResponseError is the body of every non-2xx response, wrapped in
// {"error": ...}.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
		},
	})
}

// writeModelError maps model errors to HTTP statuses. Caller mistakes are
// 400s with a stable code, cancellation is 408 and anything else is 500.
func writeModelError(c *echo.Context, err error) error {
	if code := errorCode(err); code != "" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return writeError(c, http.StatusRequestTimeout, "timeout_error", err.Error(), "")
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrTokenOutOfRange):
		return "token_out_of_range"
	case errors.Is(err, model.ErrSequenceTooLong):
		return "sequence_too_long"
	case errors.Is(err, model.ErrEmptySequence):
		return "empty_sequence"
	case errors.Is(err, model.ErrInvalidTemperature):
		return "invalid_temperature"
	default:
		return ""
	}
}
