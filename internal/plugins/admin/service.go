// Package admin provides the administrative surface: user management, role
// assignment, and the security dashboard. Every operation requires an admin
// session and every mutation lands in the security-audit log.
package admin

import (
	"context"
	"fmt"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/plugins/audit"
	"github.com/mossfield/farmstead/internal/plugins/auth"
	"github.com/mossfield/farmstead/internal/plugins/roles"
)

const usersPerPage = 50

// UserSummary is the credential-free projection of a user returned by the
// admin user list.
type UserSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Status      string `json:"status"`
	RoleID      *int64 `json:"role_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

// AdminService defines the administrative business logic.
type AdminService interface {
	// ListUsers returns a page of users and the total count. Password
	// hashes and reset state never leave this layer.
	ListUsers(ctx context.Context, page int) ([]UserSummary, int, error)

	// SetUserStatus blocks or unblocks a user. Admins cannot block
	// themselves and the last active admin cannot be blocked.
	SetUserStatus(ctx context.Context, acting *roles.Resolver, targetID int64, status, sourceAddr string) error

	// AssignRole changes a user's role through the role service.
	AssignRole(ctx context.Context, acting *roles.Resolver, targetID, roleID int64, sourceAddr string) error
}

type adminService struct {
	users    auth.UserRepository
	roles    roles.RoleService
	security audit.SecurityLog
}

// NewAdminService creates a new admin service.
func NewAdminService(users auth.UserRepository, roleService roles.RoleService, security audit.SecurityLog) AdminService {
	return &adminService{users: users, roles: roleService, security: security}
}

func (s *adminService) ListUsers(ctx context.Context, page int) ([]UserSummary, int, error) {
	if page < 1 {
		page = 1
	}

	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	list, err := s.users.List(ctx, (page-1)*usersPerPage, usersPerPage)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]UserSummary, 0, len(list))
	for _, u := range list {
		summary := UserSummary{
			ID:        u.ID,
			Username:  u.Username,
			Email:     u.Email,
			Status:    u.Status,
			RoleID:    u.RoleID,
			CreatedAt: u.CreatedAt.Format("2006-01-02 15:04"),
		}
		if u.LastLoginAt != nil {
			summary.LastLoginAt = u.LastLoginAt.Format("2006-01-02 15:04")
		}
		summaries = append(summaries, summary)
	}
	return summaries, total, nil
}

func (s *adminService) SetUserStatus(ctx context.Context, acting *roles.Resolver, targetID int64, status, sourceAddr string) error {
	if acting == nil || !acting.IsAdmin() {
		return apperror.NewForbidden("only administrators may change user status")
	}
	if status != auth.StatusActive && status != auth.StatusBlocked {
		return apperror.NewValidation(fmt.Sprintf("unknown status %q", status))
	}

	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return err
	}

	if status == auth.StatusBlocked {
		if targetID == acting.UserID() {
			return apperror.NewConflict("you cannot block your own account")
		}
		if err := s.guardLastAdmin(ctx, target); err != nil {
			return err
		}
	}

	if target.Status == status {
		return nil
	}

	if err := s.users.UpdateStatus(ctx, targetID, status); err != nil {
		return err
	}

	actorID := acting.UserID()
	category := audit.CategoryUserUnblocked
	verb := "unblocked"
	if status == auth.StatusBlocked {
		category = audit.CategoryUserBlocked
		verb = "blocked"
	}
	s.security.Record(ctx, category, &actorID,
		fmt.Sprintf("%s user %q (id %d)", verb, target.Username, target.ID), sourceAddr)
	return nil
}

// guardLastAdmin refuses to block the only remaining active admin, which
// would lock everyone out of this surface.
func (s *adminService) guardLastAdmin(ctx context.Context, target *auth.User) error {
	resolver, err := s.roles.NewResolver(ctx, target.ID)
	if err != nil {
		return err
	}
	if !resolver.IsAdmin() {
		return nil
	}

	admins, err := s.users.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return apperror.NewConflict("cannot block the last active administrator")
	}
	return nil
}

func (s *adminService) AssignRole(ctx context.Context, acting *roles.Resolver, targetID, roleID int64, sourceAddr string) error {
	if err := s.roles.ChangeUserRole(ctx, acting, targetID, roleID); err != nil {
		return err
	}

	actorID := acting.UserID()
	s.security.Record(ctx, audit.CategoryRoleChanged, &actorID,
		fmt.Sprintf("assigned role %d to user %d", roleID, targetID), sourceAddr)
	return nil
}
