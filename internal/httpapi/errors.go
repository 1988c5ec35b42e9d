package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ErrorResponse is the standardized error body returned by every handler
// in this package, correlated to the request via RequestID.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// getRequestID extracts the request ID set by the requestid middleware,
// falling back to the X-Request-ID header for callers that set their own,
// and finally to a freshly generated UUID so every error response is
// correlatable even if both upstream sources are absent.
func getRequestID(c *fiber.Ctx) string {
	if requestID := c.Locals("requestid"); requestID != nil {
		if id, ok := requestID.(string); ok && id != "" {
			return id
		}
	}
	if id := c.Get("X-Request-ID", ""); id != "" {
		return id
	}
	return uuid.NewString()
}

// sendError writes a standardized error response carrying the request ID.
func sendError(c *fiber.Ctx, statusCode int, code, errMsg string) error {
	return c.Status(statusCode).JSON(ErrorResponse{
		Error:     errMsg,
		Code:      code,
		RequestID: getRequestID(c),
	})
}

// customErrorHandler handles errors returned by handlers or raised by
// Fiber itself (routing failures, panics recovered upstream).
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return sendError(c, code, "INTERNAL_ERROR", message)
}
