package response

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/execution"
	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/services/quota"
	"github.com/sahilchouksey/askable/utils/validation"
)

const (
	QuotaExceededMessage   = "Too many messages. Daily limit reached."
	GenerateFailedMessage  = "Error generating response"
	ProviderFailedMessage  = "AI provider error"
	InternalFailedMessage  = "Internal server error."
	InvalidRequestMessage  = "Invalid request"
	RequestAbortedResponse = "Request aborted"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// Error returns an error response
func Error(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(ErrorBody{Error: message})
}

// ErrorWithDetails returns an error response with details
func ErrorWithDetails(c *fiber.Ctx, statusCode int, message string, details interface{}) error {
	return c.Status(statusCode).JSON(ErrorBody{Error: message, Details: details})
}

// Text returns a plain text response.
func Text(c *fiber.Ctx, statusCode int, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(statusCode).SendString(body)
}

// BadRequest returns a 400 Bad Request response
func BadRequest(c *fiber.Ctx, message string) error {
	if message == "" {
		message = InvalidRequestMessage
	}
	return Error(c, fiber.StatusBadRequest, message)
}

// NotFound returns a 404 Not Found response
func NotFound(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return Error(c, fiber.StatusNotFound, message)
}

// TooManyMessages is the quota rejection, sent as plain text.
func TooManyMessages(c *fiber.Ctx) error {
	return Text(c, fiber.StatusTooManyRequests, QuotaExceededMessage)
}

// InternalServerError returns a 500 Internal Server Error response
func InternalServerError(c *fiber.Ctx, message string) error {
	if message == "" {
		message = InternalFailedMessage
	}
	return Error(c, fiber.StatusInternalServerError, message)
}

// ProviderFailure answers 502 with the serialized cause. Details are left out
// in production.
func ProviderFailure(c *fiber.Ctx, err error, production bool) error {
	ser := llm.Serialize(err)
	log.Errorw("provider call failed", "path", c.Path(), "error", ser)
	if production {
		return Error(c, fiber.StatusBadGateway, ProviderFailedMessage)
	}
	return ErrorWithDetails(c, fiber.StatusBadGateway, ProviderFailedMessage, ser)
}

// FromError maps the error taxonomy of the services to a status code. Errors
// outside the taxonomy are logged and answered with a generic 500.
func FromError(c *fiber.Ctx, err error, production bool) error {
	var verrs validation.ValidationErrors
	var perr *llm.ProviderError

	switch {
	case errors.As(err, &verrs):
		return ErrorWithDetails(c, fiber.StatusBadRequest, verrs.Error(), verrs.Fields())
	case errors.Is(err, validation.ErrInvalidBody):
		return BadRequest(c, err.Error())
	case errors.Is(err, quota.ErrQuotaExceeded):
		return TooManyMessages(c)
	case errors.Is(err, execution.ErrMissingCode):
		return BadRequest(c, "Code is required")
	case errors.Is(err, chatstore.ErrChatNotFound):
		return NotFound(c, "Chat not found")
	case errors.Is(err, context.DeadlineExceeded):
		return Error(c, fiber.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return Text(c, fiber.StatusOK, RequestAbortedResponse)
	case errors.As(err, &perr):
		return ProviderFailure(c, err, production)
	}

	log.Errorw("unhandled request error", "path", c.Path(), "error", err)
	if production {
		return InternalServerError(c, "")
	}
	return InternalServerError(c, err.Error())
}
