// Package handler contains the HTTP handlers for the orchestrator's API
// surface. Every failure response uses the same envelope:
// {"error": {"code", "message", "details?"}} with a closed code set.
package handler

import (
	"github.com/labstack/echo/v4"
)

// Error codes surfaced by the API.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeVerificationFailed = "VERIFICATION_FAILED"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// fail writes the error envelope.
func fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// failWith writes the error envelope with details.
func failWith(c echo.Context, status int, code, message string, details any) error {
	return c.JSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}
