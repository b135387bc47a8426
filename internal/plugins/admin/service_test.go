package admin

import (
	"context"
	"testing"
	"time"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/plugins/auth"
	"github.com/mossfield/farmstead/internal/plugins/roles"
)

// mockUserRepo implements auth.UserRepository for the methods the admin
// service touches. The rest panic to catch unexpected calls.
type mockUserRepo struct {
	findByIDFn      func(ctx context.Context, id int64) (*auth.User, error)
	updateStatusFn  func(ctx context.Context, id int64, status string) error
	listFn          func(ctx context.Context, offset, limit int) ([]auth.User, error)
	countFn         func(ctx context.Context) (int, error)
	countAdminsFn   func(ctx context.Context) (int, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	return m.findByIDFn(ctx, id)
}

func (m *mockUserRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, offset, limit int) ([]auth.User, error) {
	return m.listFn(ctx, offset, limit)
}

func (m *mockUserRepo) Count(ctx context.Context) (int, error) { return m.countFn(ctx) }

func (m *mockUserRepo) CountAdmins(ctx context.Context) (int, error) {
	if m.countAdminsFn != nil {
		return m.countAdminsFn(ctx)
	}
	return 2, nil
}

func (m *mockUserRepo) Create(context.Context, *auth.User) error { panic("unexpected Create") }
func (m *mockUserRepo) FindByUsername(context.Context, string) (*auth.User, error) {
	panic("unexpected FindByUsername")
}
func (m *mockUserRepo) FindByEmail(context.Context, string) (*auth.User, error) {
	panic("unexpected FindByEmail")
}
func (m *mockUserRepo) UpdateLastLogin(context.Context, int64) error {
	panic("unexpected UpdateLastLogin")
}
func (m *mockUserRepo) UpdatePassword(context.Context, int64, string) error {
	panic("unexpected UpdatePassword")
}
func (m *mockUserRepo) SetResetRequest(context.Context, int64, *auth.PasswordResetRequest) error {
	panic("unexpected SetResetRequest")
}
func (m *mockUserRepo) FindByResetToken(context.Context, string) (*auth.User, error) {
	panic("unexpected FindByResetToken")
}
func (m *mockUserRepo) MarkResetVerified(context.Context, int64) error {
	panic("unexpected MarkResetVerified")
}
func (m *mockUserRepo) CompleteReset(context.Context, int64, string) error {
	panic("unexpected CompleteReset")
}

// mapRoleRepo resolves roles from a fixed map of user id to role.
type mapRoleRepo struct {
	byUser  map[int64]*roles.Role
	updated []int64
}

func (m *mapRoleRepo) ResolveForUser(_ context.Context, userID int64) (*roles.Role, error) {
	role, ok := m.byUser[userID]
	if !ok {
		return nil, nil
	}
	return role, nil
}

func (m *mapRoleRepo) FindByID(_ context.Context, id int64) (*roles.Role, error) {
	for _, role := range m.byUser {
		if role != nil && role.ID == id {
			return role, nil
		}
	}
	return nil, apperror.NewNotFound("role not found")
}

func (m *mapRoleRepo) All(context.Context) ([]roles.Role, error) { return nil, nil }

func (m *mapRoleRepo) UpdateUserRole(_ context.Context, userID, _ int64) error {
	m.updated = append(m.updated, userID)
	return nil
}

type nullLog struct{}

func (nullLog) Record(context.Context, string, *int64, string, string) {}

var (
	adminRole  = &roles.Role{ID: 1, Name: "admin"}
	farmerRole = &roles.Role{ID: 2, Name: "farmer"}
)

func resolverFor(t *testing.T, repo *mapRoleRepo, userID int64) *roles.Resolver {
	t.Helper()
	resolver, err := roles.NewRoleService(repo).NewResolver(context.Background(), userID)
	if err != nil {
		t.Fatalf("building resolver: %v", err)
	}
	return resolver
}

func TestListUsersStripsCredentials(t *testing.T) {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	repo := &mockUserRepo{
		countFn: func(context.Context) (int, error) { return 1, nil },
		listFn: func(_ context.Context, offset, limit int) ([]auth.User, error) {
			if offset != 0 || limit != usersPerPage {
				t.Errorf("List(offset=%d, limit=%d)", offset, limit)
			}
			return []auth.User{{
				ID:           7,
				Username:     "greta",
				Email:        "greta@farm.example.com",
				PasswordHash: "$argon2id$secret",
				Status:       auth.StatusActive,
				CreatedAt:    created,
				Reset:        &auth.PasswordResetRequest{Token: "secret-token", Code: "123456"},
			}}, nil
		},
	}

	svc := NewAdminService(repo, roles.NewRoleService(&mapRoleRepo{}), nullLog{})

	users, total, err := svc.ListUsers(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if total != 1 || len(users) != 1 {
		t.Fatalf("got %d users, total %d", len(users), total)
	}
	if users[0].Username != "greta" || users[0].Status != auth.StatusActive {
		t.Errorf("summary = %+v", users[0])
	}
	if users[0].CreatedAt != "2025-05-01 08:00" {
		t.Errorf("created at = %q", users[0].CreatedAt)
	}
}

func TestSetUserStatusRequiresAdmin(t *testing.T) {
	roleRepo := &mapRoleRepo{byUser: map[int64]*roles.Role{5: farmerRole}}
	repo := &mockUserRepo{
		findByIDFn: func(context.Context, int64) (*auth.User, error) {
			t.Fatal("lookup reached despite missing admin role")
			return nil, nil
		},
	}
	svc := NewAdminService(repo, roles.NewRoleService(roleRepo), nullLog{})

	err := svc.SetUserStatus(context.Background(), resolverFor(t, roleRepo, 5), 7, auth.StatusBlocked, "10.0.0.9")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Type != "forbidden" {
		t.Fatalf("error = %v, want forbidden", err)
	}

	if err := svc.SetUserStatus(context.Background(), nil, 7, auth.StatusBlocked, "10.0.0.9"); err == nil {
		t.Fatal("nil resolver accepted")
	}
}

func TestSetUserStatusBlocksUser(t *testing.T) {
	roleRepo := &mapRoleRepo{byUser: map[int64]*roles.Role{1: adminRole, 7: farmerRole}}

	var updatedStatus string
	repo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Username: "greta", Status: auth.StatusActive}, nil
		},
		updateStatusFn: func(_ context.Context, id int64, status string) error {
			updatedStatus = status
			return nil
		},
	}
	svc := NewAdminService(repo, roles.NewRoleService(roleRepo), nullLog{})

	err := svc.SetUserStatus(context.Background(), resolverFor(t, roleRepo, 1), 7, auth.StatusBlocked, "10.0.0.9")
	if err != nil {
		t.Fatalf("SetUserStatus() error = %v", err)
	}
	if updatedStatus != auth.StatusBlocked {
		t.Errorf("updated status = %q", updatedStatus)
	}
}

func TestSetUserStatusSelfBlock(t *testing.T) {
	roleRepo := &mapRoleRepo{byUser: map[int64]*roles.Role{1: adminRole}}
	repo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Status: auth.StatusActive}, nil
		},
	}
	svc := NewAdminService(repo, roles.NewRoleService(roleRepo), nullLog{})

	err := svc.SetUserStatus(context.Background(), resolverFor(t, roleRepo, 1), 1, auth.StatusBlocked, "10.0.0.9")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Type != "conflict" {
		t.Fatalf("error = %v, want conflict for self block", err)
	}
}

func TestSetUserStatusLastAdmin(t *testing.T) {
	roleRepo := &mapRoleRepo{byUser: map[int64]*roles.Role{1: adminRole, 2: adminRole}}
	repo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Status: auth.StatusActive}, nil
		},
		countAdminsFn: func(context.Context) (int, error) { return 1, nil },
	}
	svc := NewAdminService(repo, roles.NewRoleService(roleRepo), nullLog{})

	err := svc.SetUserStatus(context.Background(), resolverFor(t, roleRepo, 1), 2, auth.StatusBlocked, "10.0.0.9")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Type != "conflict" {
		t.Fatalf("error = %v, want conflict for last admin", err)
	}
}

func TestSetUserStatusInvalidStatus(t *testing.T) {
	roleRepo := &mapRoleRepo{byUser: map[int64]*roles.Role{1: adminRole}}
	svc := NewAdminService(&mockUserRepo{}, roles.NewRoleService(roleRepo), nullLog{})

	err := svc.SetUserStatus(context.Background(), resolverFor(t, roleRepo, 1), 7, "suspended", "10.0.0.9")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Type != "validation_error" {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestAssignRoleDelegatesAdminCheck(t *testing.T) {
	roleRepo := &mapRoleRepo{byUser: map[int64]*roles.Role{1: adminRole, 5: farmerRole, 7: farmerRole}}
	svc := NewAdminService(&mockUserRepo{}, roles.NewRoleService(roleRepo), nullLog{})

	// Non-admins fail closed inside the role service.
	err := svc.AssignRole(context.Background(), resolverFor(t, roleRepo, 5), 7, adminRole.ID, "10.0.0.9")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Type != "forbidden" {
		t.Fatalf("error = %v, want forbidden", err)
	}
	if len(roleRepo.updated) != 0 {
		t.Fatal("role written despite forbidden actor")
	}

	if err := svc.AssignRole(context.Background(), resolverFor(t, roleRepo, 1), 7, adminRole.ID, "10.0.0.9"); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	if len(roleRepo.updated) != 1 || roleRepo.updated[0] != 7 {
		t.Errorf("updated users = %v, want [7]", roleRepo.updated)
	}
}
