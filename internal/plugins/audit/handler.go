package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler serves the admin-facing security dashboard endpoints.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// ListEvents handles GET /admin/security/events.
func (h *Handler) ListEvents(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	category := c.QueryParam("category")

	events, total, err := h.service.ListEvents(c.Request().Context(), category, page)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
	})
}

// GetStats handles GET /admin/security/stats.
func (h *Handler) GetStats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
