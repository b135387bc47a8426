package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/plugins/auth"
	"github.com/mossfield/farmstead/internal/plugins/roles"
)

// Handler handles HTTP requests for the admin surface.
type Handler struct {
	service AdminService
	roles   roles.RoleService
}

// NewHandler creates a new admin handler.
func NewHandler(service AdminService, roleService roles.RoleService) *Handler {
	return &Handler{service: service, roles: roleService}
}

// ListUsers handles GET /admin/users.
func (h *Handler) ListUsers(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	users, total, err := h.service.ListUsers(c.Request().Context(), page)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

// ListRoles handles GET /admin/roles, feeding the role picker.
func (h *Handler) ListRoles(c echo.Context) error {
	list, err := h.roles.AllRoles(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"roles": list})
}

type statusRequest struct {
	Status string `json:"status" form:"status"`
}

// SetUserStatus handles POST /admin/users/:id/status.
func (h *Handler) SetUserStatus(c echo.Context) error {
	targetID, err := parseID(c)
	if err != nil {
		return err
	}

	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	resolver, err := h.actingResolver(c)
	if err != nil {
		return err
	}

	err = h.service.SetUserStatus(c.Request().Context(), resolver, targetID, req.Status, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "User status updated."})
}

type roleRequest struct {
	RoleID int64 `json:"role_id" form:"role_id"`
}

// AssignRole handles POST /admin/users/:id/role.
func (h *Handler) AssignRole(c echo.Context) error {
	targetID, err := parseID(c)
	if err != nil {
		return err
	}

	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	resolver, err := h.actingResolver(c)
	if err != nil {
		return err
	}

	err = h.service.AssignRole(c.Request().Context(), resolver, targetID, req.RoleID, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Role updated."})
}

// actingResolver resolves the acting admin's role fresh from the database,
// so a stale session cannot act on a revoked role.
func (h *Handler) actingResolver(c echo.Context) (*roles.Resolver, error) {
	session := auth.GetSession(c)
	if session == nil {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	return h.roles.NewResolver(c.Request().Context(), session.UserID)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.NewBadRequest("invalid user id")
	}
	return id, nil
}
