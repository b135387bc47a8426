package fields

import (
	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/plugins/auth"
)

// RegisterRoutes registers the field routes. Reading requires a session;
// writing requires the admin role.
func RegisterRoutes(e *echo.Echo, h *Handler, authService auth.AuthService) {
	g := e.Group("/fields", auth.RequireSession(authService))

	g.GET("", h.List)
	g.GET("/:id", h.Get)

	g.POST("", h.Create, auth.RequireAdmin())
	g.PUT("/:id", h.Update, auth.RequireAdmin())
	g.DELETE("/:id", h.Delete, auth.RequireAdmin())
}
