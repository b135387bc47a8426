package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/plugins/audit"
	"github.com/mossfield/farmstead/internal/plugins/auth"
)

// RegisterRoutes registers the admin routes behind session and admin gates.
// The security dashboard endpoints live here too: the audit plugin cannot
// reference the auth middleware itself without creating an import cycle.
func RegisterRoutes(e *echo.Echo, h *Handler, auditHandler *audit.Handler, authService auth.AuthService) {
	g := e.Group("/admin", auth.RequireSession(authService), auth.RequireAdmin())

	g.GET("/users", h.ListUsers)
	g.GET("/roles", h.ListRoles)
	g.POST("/users/:id/status", h.SetUserStatus)
	g.POST("/users/:id/role", h.AssignRole)

	g.GET("/security/events", auditHandler.ListEvents)
	g.GET("/security/stats", auditHandler.GetStats)
}
