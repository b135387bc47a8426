package fields

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/apperror"
)

// Handler handles HTTP requests for the field registry.
type Handler struct {
	service FieldService
}

// NewHandler creates a new fields handler.
func NewHandler(service FieldService) *Handler {
	return &Handler{service: service}
}

// List handles GET /fields.
func (h *Handler) List(c echo.Context) error {
	list, err := h.service.ListFields(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"fields": list})
}

// Get handles GET /fields/:id.
func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	field, err := h.service.GetField(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, field)
}

// Create handles POST /fields.
func (h *Handler) Create(c echo.Context) error {
	var input FieldInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	field, err := h.service.CreateField(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, field)
}

// Update handles PUT /fields/:id.
func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var input FieldInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	field, err := h.service.UpdateField(c.Request().Context(), id, input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, field)
}

// Delete handles DELETE /fields/:id.
func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteField(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.NewBadRequest("invalid field id")
	}
	return id, nil
}
