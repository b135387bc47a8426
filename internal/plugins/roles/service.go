package roles

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mossfield/farmstead/internal/apperror"
)

// Resolver answers authorization queries for a single user. The role is
// resolved once at construction and cached for the resolver's lifetime,
// so queries are cheap to repeat within a request.
type Resolver struct {
	userID int64
	role   *Role // nil when the user has no role.
}

// UserID returns the user this resolver was built for.
func (r *Resolver) UserID() int64 { return r.userID }

// Role returns the cached role, or nil when the user has none.
func (r *Resolver) Role() *Role { return r.role }

// IsAdmin reports whether the cached role is the reserved admin role.
func (r *Resolver) IsAdmin() bool {
	return r.role != nil && r.role.Name == AdminRoleName
}

// HasRole reports whether the cached role name exactly matches name.
func (r *Resolver) HasRole(name string) bool {
	return r.role != nil && r.role.Name == name
}

// RoleService defines the business logic contract for role resolution and
// assignment. Handlers and other plugins call these methods -- they never
// touch the repository directly.
type RoleService interface {
	// NewResolver resolves and caches the role for a user. A user without
	// a role yields a valid resolver that answers false to every query.
	NewResolver(ctx context.Context, userID int64) (*Resolver, error)

	// AllRoles returns the role enumeration ordered by ID.
	AllRoles(ctx context.Context) ([]Role, error)

	// ChangeUserRole assigns newRoleID to targetUserID. Only admins may
	// change roles; anything else fails closed with no write.
	ChangeUserRole(ctx context.Context, acting *Resolver, targetUserID, newRoleID int64) error
}

// roleService implements RoleService.
type roleService struct {
	repo RoleRepository
}

// NewRoleService creates a new role service with the given repository.
func NewRoleService(repo RoleRepository) RoleService {
	return &roleService{repo: repo}
}

// NewResolver builds a resolver for the given user, resolving the role with
// a single join lookup.
func (s *roleService) NewResolver(ctx context.Context, userID int64) (*Resolver, error) {
	role, err := s.repo.ResolveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Resolver{userID: userID, role: role}, nil
}

// AllRoles returns the role enumeration for admin-facing role pickers.
func (s *roleService) AllRoles(ctx context.Context) ([]Role, error) {
	list, err := s.repo.All(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing roles: %w", err))
	}
	return list, nil
}

// ChangeUserRole assigns a role to a user. The acting resolver must be an
// admin; non-admins are rejected before any lookup or write happens.
func (s *roleService) ChangeUserRole(ctx context.Context, acting *Resolver, targetUserID, newRoleID int64) error {
	if acting == nil || !acting.IsAdmin() {
		return apperror.NewForbidden("only administrators may change roles")
	}

	// Reject unknown role IDs so a stale form can't null out assignments.
	if _, err := s.repo.FindByID(ctx, newRoleID); err != nil {
		return err
	}

	if err := s.repo.UpdateUserRole(ctx, targetUserID, newRoleID); err != nil {
		return err
	}

	slog.Info("user role changed",
		slog.Int64("actor_id", acting.UserID()),
		slog.Int64("target_id", targetUserID),
		slog.Int64("role_id", newRoleID),
	)

	return nil
}
