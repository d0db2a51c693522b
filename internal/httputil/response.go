// Package httputil provides shared HTTP response envelopes and middleware for the small REST surface that sits next
// to the WebSocket gateway.
package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// Code classifies an API error for clients.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// SuccessResponse wraps successful API responses.
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Fail sends a JSON error response with the given status, code, and message.
func Fail(c fiber.Ctx, status int, code Code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

// StatusToCode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest API error code.
func StatusToCode(status int) Code {
	switch {
	case status == fiber.StatusNotFound:
		return CodeNotFound
	case status == fiber.StatusTooManyRequests:
		return CodeRateLimited
	case status == fiber.StatusServiceUnavailable:
		return CodeServiceUnavailable
	case status >= 400 && status < 500:
		return CodeValidationError
	default:
		return CodeInternalError
	}
}
