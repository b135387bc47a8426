// Package app assembles the Farmstead application: it owns the Echo
// instance, the shared infrastructure handles, and the plugin wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/config"
	"github.com/mossfield/farmstead/internal/mailer"
	"github.com/mossfield/farmstead/internal/middleware"
)

// App holds the application state and shared infrastructure.
type App struct {
	echo   *echo.Echo
	cfg    *config.Config
	db     *sql.DB
	redis  *redis.Client
	mail   mailer.Sender
}

// New creates the application, configures middleware, and registers every
// plugin's routes.
func New(cfg *config.Config, db *sql.DB, redisClient *redis.Client) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	app := &App{
		echo:  e,
		cfg:   cfg,
		db:    db,
		redis: redisClient,
		mail:  mailer.NewFromConfig(cfg.SMTP),
	}

	app.setupMiddleware()
	app.setupRoutes()
	return app
}

// setupMiddleware registers the global middleware chain. Order matters:
// recovery first so panics anywhere downstream become 500s, then request id
// and logging so every logged request carries its id.
func (a *App) setupMiddleware() {
	middleware.TrustedProxies(a.echo, a.cfg.TrustedProxies)

	a.echo.Use(middleware.Recovery())
	a.echo.Use(middleware.RequestID())
	a.echo.Use(middleware.RequestLogger())
	a.echo.Use(middleware.SecurityHeaders())
	a.echo.Use(middleware.CSRF())
}

// Start begins serving HTTP on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)
	slog.Info("server listening", "addr", addr, "env", a.cfg.Env)

	if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests and closes the
// infrastructure handles.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := a.redis.Close(); err != nil {
		slog.Warn("closing redis", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
	return nil
}

// errorHandler is the central Echo error handler. AppErrors map to their
// status and safe message; everything else becomes a generic 500 with the
// original error kept server-side.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := apperror.SafeCode(err)
	message := apperror.SafeMessage(err)

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Internal != nil {
		slog.Error("request failed",
			"request_id", middleware.GetRequestID(c),
			"status", status,
			"error", appErr.Internal,
		)
	} else if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"request_id", middleware.GetRequestID(c),
			"status", status,
			"error", err,
		)
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		status = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		}
	}

	if writeErr := c.JSON(status, map[string]string{"error": message}); writeErr != nil {
		slog.Error("failed to write error response", "error", writeErr)
	}
}
