package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// requestIDHeader is the header carrying the request correlation ID.
const requestIDHeader = "X-Request-Id"

// contextKeyRequestID stores the request ID in the Echo context.
const contextKeyRequestID = "request_id"

// RequestID returns middleware that assigns each request a correlation ID.
// An inbound X-Request-Id header from a trusted proxy is preserved; otherwise
// a fresh UUID is generated. The ID is echoed back on the response and made
// available to the request logger.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}

			c.Set(contextKeyRequestID, id)
			c.Response().Header().Set(requestIDHeader, id)

			return next(c)
		}
	}
}

// GetRequestID retrieves the request correlation ID from the Echo context.
// Returns empty string if the RequestID middleware is not applied.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
