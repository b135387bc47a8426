package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/middleware"
)

// RegisterRoutes registers the auth routes. Credential-bearing endpoints
// are rate limited per source IP to slow guessing of passwords and one-time
// codes.
func RegisterRoutes(e *echo.Echo, h *Handler, service AuthService) {
	limit := middleware.RateLimit(10, time.Minute)

	e.POST("/login", h.Login, limit)
	e.POST("/logout", h.Logout)

	e.POST("/forgot-password", h.ForgotPassword, limit)
	e.POST("/reset-password/verify", h.VerifyResetCode, limit)
	e.POST("/reset-password", h.CompletePasswordReset, limit)

	account := e.Group("/account", RequireSession(service))
	account.GET("/me", h.Me)
	account.POST("/password/change", h.StartPasswordChange, limit)
	account.POST("/password/confirm", h.ConfirmPasswordChange, limit)
}
