package app

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/plugins/admin"
	"github.com/mossfield/farmstead/internal/plugins/audit"
	"github.com/mossfield/farmstead/internal/plugins/auth"
	"github.com/mossfield/farmstead/internal/plugins/fields"
	"github.com/mossfield/farmstead/internal/plugins/roles"
)

// setupRoutes builds each plugin's repository/service/handler stack and
// registers its routes.
func (a *App) setupRoutes() {
	// Roles resolve against the database; the resolver is shared by auth
	// (login) and admin (mutation checks).
	roleService := roles.NewRoleService(roles.NewRoleRepository(a.db))

	auditService := audit.NewAuditService(audit.NewSecurityEventRepository(a.db))

	userRepo := auth.NewUserRepository(a.db)
	sessionStore := auth.NewRedisSessionStore(a.redis, a.cfg.Auth.SessionTTL)
	authService := auth.NewAuthService(
		userRepo,
		sessionStore,
		roleService,
		auditService,
		a.mail,
		a.cfg.BaseURL,
		a.cfg.Auth.ChallengeTTL,
		a.cfg.Auth.ResetTTL,
	)
	authHandler := auth.NewHandler(authService, !a.cfg.IsDevelopment(), a.cfg.Auth.SessionTTL)
	auth.RegisterRoutes(a.echo, authHandler, authService)

	adminService := admin.NewAdminService(userRepo, roleService, auditService)
	adminHandler := admin.NewHandler(adminService, roleService)
	auditHandler := audit.NewHandler(auditService)
	admin.RegisterRoutes(a.echo, adminHandler, auditHandler, authService)

	fieldService := fields.NewFieldService(fields.NewFieldRepository(a.db))
	fields.RegisterRoutes(a.echo, fields.NewHandler(fieldService), authService)

	a.echo.GET("/healthz", a.healthz)
}

// healthz reports liveness of the process and its two backing stores.
func (a *App) healthz(c echo.Context) error {
	ctx := c.Request().Context()

	checks := map[string]string{"database": "ok", "redis": "ok"}
	healthy := true

	if err := a.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status, label := http.StatusOK, "ok"
	if !healthy {
		status, label = http.StatusServiceUnavailable, "degraded"
	}
	return c.JSON(status, map[string]any{
		"status": label,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
