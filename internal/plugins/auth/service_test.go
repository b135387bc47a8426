package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/plugins/audit"
	"github.com/mossfield/farmstead/internal/plugins/roles"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// --- Mocks ---

// mockUserRepo implements UserRepository with overridable function fields.
// Unset fields answer not-found or succeed silently.
type mockUserRepo struct {
	createFn           func(ctx context.Context, user *User) error
	findByIDFn         func(ctx context.Context, id int64) (*User, error)
	findByUsernameFn   func(ctx context.Context, username string) (*User, error)
	findByEmailFn      func(ctx context.Context, email string) (*User, error)
	updateLastLoginFn  func(ctx context.Context, id int64) error
	updatePasswordFn   func(ctx context.Context, id int64, hash string) error
	setResetRequestFn  func(ctx context.Context, id int64, req *PasswordResetRequest) error
	findByResetTokenFn func(ctx context.Context, token string) (*User, error)
	markResetVerifyFn  func(ctx context.Context, id int64) error
	completeResetFn    func(ctx context.Context, id int64, hash string) error
	updateStatusFn     func(ctx context.Context, id int64, status string) error
	listFn             func(ctx context.Context, offset, limit int) ([]User, error)
	countFn            func(ctx context.Context) (int, error)
	countAdminsFn      func(ctx context.Context) (int, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id int64) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, id, hash)
	}
	return nil
}

func (m *mockUserRepo) SetResetRequest(ctx context.Context, id int64, req *PasswordResetRequest) error {
	if m.setResetRequestFn != nil {
		return m.setResetRequestFn(ctx, id, req)
	}
	return nil
}

func (m *mockUserRepo) FindByResetToken(ctx context.Context, token string) (*User, error) {
	if m.findByResetTokenFn != nil {
		return m.findByResetTokenFn(ctx, token)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) MarkResetVerified(ctx context.Context, id int64) error {
	if m.markResetVerifyFn != nil {
		return m.markResetVerifyFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) CompleteReset(ctx context.Context, id int64, hash string) error {
	if m.completeResetFn != nil {
		return m.completeResetFn(ctx, id, hash)
	}
	return nil
}

func (m *mockUserRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, offset, limit int) ([]User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, offset, limit)
	}
	return nil, nil
}

func (m *mockUserRepo) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func (m *mockUserRepo) CountAdmins(ctx context.Context) (int, error) {
	if m.countAdminsFn != nil {
		return m.countAdminsFn(ctx)
	}
	return 1, nil
}

// memorySessionStore is an in-memory SessionStore. Values are copied on the
// way in and out, mirroring the JSON round trip through Redis.
type memorySessionStore struct {
	sessions map[string]*Session
	next     int
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*Session)}
}

func copySession(s *Session) *Session {
	cp := *s
	if s.Challenge != nil {
		ch := *s.Challenge
		cp.Challenge = &ch
	}
	return &cp
}

func (m *memorySessionStore) Create(_ context.Context, session *Session) (string, error) {
	m.next++
	token := fmt.Sprintf("session-token-%d", m.next)
	m.sessions[token] = copySession(session)
	return token, nil
}

func (m *memorySessionStore) Get(_ context.Context, token string) (*Session, error) {
	session, ok := m.sessions[token]
	if !ok {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	return copySession(session), nil
}

func (m *memorySessionStore) Update(_ context.Context, token string, session *Session) error {
	if _, ok := m.sessions[token]; !ok {
		return apperror.NewUnauthorized("session expired or invalid")
	}
	m.sessions[token] = copySession(session)
	return nil
}

func (m *memorySessionStore) Destroy(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

// recordingLog captures security events for assertions.
type recordingLog struct {
	events []recordedEvent
}

type recordedEvent struct {
	category string
	userID   *int64
	message  string
}

func (r *recordingLog) Record(_ context.Context, category string, userID *int64, message, _ string) {
	r.events = append(r.events, recordedEvent{category: category, userID: userID, message: message})
}

func (r *recordingLog) last(t *testing.T) recordedEvent {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no security events recorded")
	}
	return r.events[len(r.events)-1]
}

// fakeMailer captures outgoing mail.
type fakeMailer struct {
	sent []sentMail
	fail bool
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendMail(_ context.Context, to []string, subject, body string) error {
	if f.fail {
		return errors.New("smtp unreachable")
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// stubRoleRepo backs a real roles.RoleService with a fixed answer.
type stubRoleRepo struct {
	role *roles.Role
}

func (s *stubRoleRepo) ResolveForUser(context.Context, int64) (*roles.Role, error) {
	return s.role, nil
}
func (s *stubRoleRepo) FindByID(context.Context, int64) (*roles.Role, error) { return s.role, nil }
func (s *stubRoleRepo) All(context.Context) ([]roles.Role, error)            { return nil, nil }
func (s *stubRoleRepo) UpdateUserRole(context.Context, int64, int64) error   { return nil }

// --- Helpers ---

type testEnv struct {
	svc      *authService
	repo     *mockUserRepo
	sessions *memorySessionStore
	log      *recordingLog
	mail     *fakeMailer
}

func newTestEnv(repo *mockUserRepo) *testEnv {
	sessions := newMemorySessionStore()
	log := &recordingLog{}
	mail := &fakeMailer{}
	roleService := roles.NewRoleService(&stubRoleRepo{
		role: &roles.Role{ID: 2, Name: "farmer"},
	})

	svc := NewAuthService(repo, sessions, roleService, log, mail,
		"https://farm.example.com", 10*time.Minute, 24*time.Hour).(*authService)
	svc.now = func() time.Time { return testNow }

	return &testEnv{svc: svc, repo: repo, sessions: sessions, log: log, mail: mail}
}

// advance moves the injected clock forward.
func (e *testEnv) advance(d time.Duration) {
	then := e.svc.now().Add(d)
	e.svc.now = func() time.Time { return then }
}

func testUser(t *testing.T, password string) *User {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashing fixture password: %v", err)
	}
	return &User{
		ID:           7,
		Username:     "greta",
		Email:        "greta@farm.example.com",
		PasswordHash: hash,
		Status:       StatusActive,
	}
}

// --- Login ---

func TestLoginSuccess(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	lastLoginUpdated := false
	env := newTestEnv(&mockUserRepo{
		findByUsernameFn: func(_ context.Context, username string) (*User, error) {
			if username != "greta" {
				t.Errorf("looked up username %q, want greta", username)
			}
			return user, nil
		},
		updateLastLoginFn: func(_ context.Context, id int64) error {
			lastLoginUpdated = true
			return nil
		},
	})

	token, session, err := env.svc.Login(context.Background(), LoginInput{
		Username: "greta", Password: "pasture-gate-42", SourceAddr: "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Error("Login() returned empty token")
	}
	if session.UserID != 7 || !session.LoggedIn {
		t.Errorf("session = %+v, want user 7 logged in", session)
	}
	if session.Role != "farmer" {
		t.Errorf("session role = %q, want farmer", session.Role)
	}
	if !lastLoginUpdated {
		t.Error("last login was not updated")
	}

	stored, err := env.sessions.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if stored.Username != "greta" {
		t.Errorf("stored session username = %q", stored.Username)
	}

	event := env.log.last(t)
	if event.category != audit.CategoryLoginSuccess {
		t.Errorf("recorded %q, want %q", event.category, audit.CategoryLoginSuccess)
	}
	if event.userID == nil || *event.userID != 7 {
		t.Errorf("event userID = %v, want 7", event.userID)
	}
}

func TestLoginUnknownUsername(t *testing.T) {
	env := newTestEnv(&mockUserRepo{})

	_, _, err := env.svc.Login(context.Background(), LoginInput{
		Username: "nobody", Password: "whatever",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	event := env.log.last(t)
	if event.category != audit.CategoryLoginFailed {
		t.Errorf("recorded %q, want %q", event.category, audit.CategoryLoginFailed)
	}
	if event.userID != nil {
		t.Errorf("event userID = %v, want nil for unknown username", *event.userID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(&mockUserRepo{
		findByUsernameFn: func(context.Context, string) (*User, error) { return user, nil },
	})

	_, _, err := env.svc.Login(context.Background(), LoginInput{
		Username: "greta", Password: "not-it",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	event := env.log.last(t)
	if event.category != audit.CategoryLoginFailed {
		t.Errorf("recorded %q, want %q", event.category, audit.CategoryLoginFailed)
	}
	if event.userID == nil || *event.userID != user.ID {
		t.Errorf("event userID = %v, want %d", event.userID, user.ID)
	}
}

func TestLoginBlockedAccount(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Status = StatusBlocked
	env := newTestEnv(&mockUserRepo{
		findByUsernameFn: func(context.Context, string) (*User, error) { return user, nil },
	})

	// Correct password, blocked account.
	_, _, err := env.svc.Login(context.Background(), LoginInput{
		Username: "greta", Password: "pasture-gate-42",
	})
	if !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("Login() error = %v, want ErrAccountBlocked", err)
	}
	if got := env.log.last(t).category; got != audit.CategoryLoginBlocked {
		t.Errorf("recorded %q, want %q", got, audit.CategoryLoginBlocked)
	}

	// Wrong password on a blocked account reads as plain invalid
	// credentials, revealing nothing about the block.
	_, _, err = env.svc.Login(context.Background(), LoginInput{
		Username: "greta", Password: "not-it",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginEmptyInput(t *testing.T) {
	env := newTestEnv(&mockUserRepo{
		findByUsernameFn: func(context.Context, string) (*User, error) {
			t.Fatal("repository consulted for empty credentials")
			return nil, nil
		},
	})

	for _, input := range []LoginInput{
		{Username: "", Password: "x"},
		{Username: "greta", Password: ""},
		{Username: "   ", Password: "x"},
	} {
		if _, _, err := env.svc.Login(context.Background(), input); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%+v) error = %v, want ErrInvalidCredentials", input, err)
		}
	}
}

// --- Change password ---

// startChange logs a user in and requests a password change, returning the
// session token and the code that was mailed.
func startChange(t *testing.T, env *testEnv, user *User, password string) (string, string) {
	t.Helper()

	token, _, err := env.svc.Login(context.Background(), LoginInput{
		Username: user.Username, Password: password,
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := env.svc.RequestPasswordChange(context.Background(), token, password, "10.0.0.9"); err != nil {
		t.Fatalf("RequestPasswordChange() error = %v", err)
	}

	session, err := env.sessions.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("loading session: %v", err)
	}
	if session.Challenge == nil {
		t.Fatal("no challenge stored in session")
	}
	return token, session.Challenge.Code
}

func changeRepo(t *testing.T, user *User) *mockUserRepo {
	t.Helper()
	return &mockUserRepo{
		findByUsernameFn: func(context.Context, string) (*User, error) { return user, nil },
		findByIDFn:       func(context.Context, int64) (*User, error) { return user, nil },
	}
}

func TestRequestPasswordChangeIssuesCode(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(changeRepo(t, user))

	_, code := startChange(t, env, user, "pasture-gate-42")

	if len(code) != 6 {
		t.Errorf("challenge code %q is not 6 digits", code)
	}
	if len(env.mail.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(env.mail.sent))
	}
	mail := env.mail.sent[0]
	if mail.to[0] != user.Email {
		t.Errorf("mail sent to %q, want %q", mail.to[0], user.Email)
	}
	if !strings.Contains(mail.body, code) {
		t.Error("mailed body does not contain the challenge code")
	}
	if got := env.log.last(t).category; got != audit.CategoryPasswordChangeStarted {
		t.Errorf("recorded %q, want %q", got, audit.CategoryPasswordChangeStarted)
	}
}

func TestRequestPasswordChangeWrongCurrentPassword(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(changeRepo(t, user))

	token, _, err := env.svc.Login(context.Background(), LoginInput{
		Username: "greta", Password: "pasture-gate-42",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	err = env.svc.RequestPasswordChange(context.Background(), token, "not-it", "10.0.0.9")
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("RequestPasswordChange() error = %v, want ErrWrongPassword", err)
	}

	session, _ := env.sessions.Get(context.Background(), token)
	if session.Challenge != nil {
		t.Error("challenge issued despite wrong current password")
	}
	if len(env.mail.sent) != 0 {
		t.Error("mail sent despite wrong current password")
	}
}

func TestConfirmPasswordChangeNoChallenge(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(changeRepo(t, user))

	token, _, err := env.svc.Login(context.Background(), LoginInput{
		Username: "greta", Password: "pasture-gate-42",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	err = env.svc.ConfirmPasswordChange(context.Background(), token, ChangePasswordConfirmRequest{
		Code: "123456", NewPassword: "brand-new-pass", Confirm: "brand-new-pass",
	}, "10.0.0.9")
	if !errors.Is(err, ErrChallengeMissing) {
		t.Fatalf("ConfirmPasswordChange() error = %v, want ErrChallengeMissing", err)
	}
}

func TestConfirmPasswordChangeExpired(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(changeRepo(t, user))
	token, code := startChange(t, env, user, "pasture-gate-42")

	env.advance(10*time.Minute + time.Second)

	err := env.svc.ConfirmPasswordChange(context.Background(), token, ChangePasswordConfirmRequest{
		Code: code, NewPassword: "brand-new-pass", Confirm: "brand-new-pass",
	}, "10.0.0.9")
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("ConfirmPasswordChange() error = %v, want ErrChallengeExpired", err)
	}

	// The expired challenge is gone; a retry reads as missing.
	err = env.svc.ConfirmPasswordChange(context.Background(), token, ChangePasswordConfirmRequest{
		Code: code, NewPassword: "brand-new-pass", Confirm: "brand-new-pass",
	}, "10.0.0.9")
	if !errors.Is(err, ErrChallengeMissing) {
		t.Fatalf("retry error = %v, want ErrChallengeMissing", err)
	}
}

func TestConfirmPasswordChangeAtBoundary(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	repo := changeRepo(t, user)
	env := newTestEnv(repo)
	token, code := startChange(t, env, user, "pasture-gate-42")

	// Exactly at the window edge still counts.
	env.advance(10 * time.Minute)

	err := env.svc.ConfirmPasswordChange(context.Background(), token, ChangePasswordConfirmRequest{
		Code: code, NewPassword: "brand-new-pass", Confirm: "brand-new-pass",
	}, "10.0.0.9")
	if err != nil {
		t.Fatalf("ConfirmPasswordChange() at boundary error = %v", err)
	}
}

func TestConfirmPasswordChangeWrongCode(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(changeRepo(t, user))
	token, code := startChange(t, env, user, "pasture-gate-42")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	err := env.svc.ConfirmPasswordChange(context.Background(), token, ChangePasswordConfirmRequest{
		Code: wrong, NewPassword: "brand-new-pass", Confirm: "brand-new-pass",
	}, "10.0.0.9")
	if !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("ConfirmPasswordChange() error = %v, want ErrCodeMismatch", err)
	}

	// A wrong guess does not burn the challenge.
	session, _ := env.sessions.Get(context.Background(), token)
	if session.Challenge == nil {
		t.Error("challenge consumed by a wrong code")
	}
}

func TestConfirmPasswordChangeValidation(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(changeRepo(t, user))
	token, code := startChange(t, env, user, "pasture-gate-42")

	tests := []struct {
		name     string
		password string
		confirm  string
	}{
		{"too short", "short7!", "short7!"},
		{"mismatch", "brand-new-pass", "other-new-pass"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.svc.ConfirmPasswordChange(context.Background(), token, ChangePasswordConfirmRequest{
				Code: code, NewPassword: tt.password, Confirm: tt.confirm,
			}, "10.0.0.9")

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || appErr.Type != "validation_error" {
				t.Fatalf("error = %v, want validation error", err)
			}
		})
	}

	// Validation failures leave the challenge intact for a corrected
	// resubmission.
	session, _ := env.sessions.Get(context.Background(), token)
	if session.Challenge == nil {
		t.Error("challenge consumed by a validation failure")
	}
}

func TestConfirmPasswordChangeSuccess(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	repo := changeRepo(t, user)

	var newHash string
	repo.updatePasswordFn = func(_ context.Context, id int64, hash string) error {
		if id != user.ID {
			t.Errorf("password updated for user %d, want %d", id, user.ID)
		}
		newHash = hash
		return nil
	}

	env := newTestEnv(repo)
	token, code := startChange(t, env, user, "pasture-gate-42")

	req := ChangePasswordConfirmRequest{
		Code: code, NewPassword: "fresh-meadow-99", Confirm: "fresh-meadow-99",
	}
	if err := env.svc.ConfirmPasswordChange(context.Background(), token, req, "10.0.0.9"); err != nil {
		t.Fatalf("ConfirmPasswordChange() error = %v", err)
	}

	if ok, _ := verifyPassword("fresh-meadow-99", newHash); !ok {
		t.Error("stored hash does not verify against the new password")
	}
	if got := env.log.last(t).category; got != audit.CategoryPasswordChanged {
		t.Errorf("recorded %q, want %q", got, audit.CategoryPasswordChanged)
	}

	// The code is single use.
	err := env.svc.ConfirmPasswordChange(context.Background(), token, req, "10.0.0.9")
	if !errors.Is(err, ErrChallengeMissing) {
		t.Fatalf("reuse error = %v, want ErrChallengeMissing", err)
	}
}

// --- Reset password ---

func TestRequestPasswordResetInvalidEmail(t *testing.T) {
	env := newTestEnv(&mockUserRepo{})

	for _, email := range []string{"", "not-an-email", "missing@domain@twice"} {
		err := env.svc.RequestPasswordReset(context.Background(), email, "10.0.0.9")
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || appErr.Type != "validation_error" {
			t.Errorf("RequestPasswordReset(%q) error = %v, want validation error", email, err)
		}
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(&mockUserRepo{})

	err := env.svc.RequestPasswordReset(context.Background(), "nobody@farm.example.com", "10.0.0.9")
	if !apperror.IsNotFound(err) {
		t.Fatalf("RequestPasswordReset() error = %v, want not found", err)
	}
	if len(env.mail.sent) != 0 {
		t.Error("mail sent for unknown email")
	}
}

func TestRequestPasswordResetStoresAndMails(t *testing.T) {
	user := testUser(t, "pasture-gate-42")

	var stored *PasswordResetRequest
	env := newTestEnv(&mockUserRepo{
		findByEmailFn: func(_ context.Context, email string) (*User, error) {
			if email != user.Email {
				t.Errorf("looked up email %q, want %q", email, user.Email)
			}
			return user, nil
		},
		setResetRequestFn: func(_ context.Context, id int64, req *PasswordResetRequest) error {
			if id != user.ID {
				t.Errorf("reset stored for user %d, want %d", id, user.ID)
			}
			stored = req
			return nil
		},
	})

	// Email lookup is case-insensitive.
	err := env.svc.RequestPasswordReset(context.Background(), "  Greta@Farm.Example.Com ", "10.0.0.9")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}

	if stored == nil {
		t.Fatal("no reset request stored")
	}
	if len(stored.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(stored.Token))
	}
	if len(stored.Code) != 6 {
		t.Errorf("code %q is not 6 digits", stored.Code)
	}
	if want := testNow.Add(24 * time.Hour); !stored.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", stored.ExpiresAt, want)
	}
	if stored.Verified {
		t.Error("fresh reset request already verified")
	}

	if len(env.mail.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(env.mail.sent))
	}
	body := env.mail.sent[0].body
	if !strings.Contains(body, "https://farm.example.com/reset-password?token="+stored.Token) {
		t.Error("mail body missing reset link")
	}
	if !strings.Contains(body, stored.Code) {
		t.Error("mail body missing one-time code")
	}
	if got := env.log.last(t).category; got != audit.CategoryPasswordResetRequested {
		t.Errorf("recorded %q, want %q", got, audit.CategoryPasswordResetRequested)
	}
}

func TestRequestPasswordResetTokenCollision(t *testing.T) {
	user := testUser(t, "pasture-gate-42")

	var tokens []string
	env := newTestEnv(&mockUserRepo{
		findByEmailFn: func(context.Context, string) (*User, error) { return user, nil },
		setResetRequestFn: func(_ context.Context, _ int64, req *PasswordResetRequest) error {
			tokens = append(tokens, req.Token)
			if len(tokens) == 1 {
				return ErrDuplicateToken
			}
			return nil
		},
	})

	err := env.svc.RequestPasswordReset(context.Background(), user.Email, "10.0.0.9")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("stored %d tokens, want retry after collision", len(tokens))
	}
	if tokens[0] == tokens[1] {
		t.Error("retry reused the colliding token")
	}
}

func TestRequestPasswordResetSupersedesPrior(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Reset = &PasswordResetRequest{
		Token:     strings.Repeat("cd", 32),
		Code:      "111111",
		ExpiresAt: testNow.Add(24 * time.Hour),
	}
	oldToken := user.Reset.Token

	repo := resetRepo(user)
	repo.findByEmailFn = func(context.Context, string) (*User, error) { return user, nil }
	repo.setResetRequestFn = func(_ context.Context, _ int64, req *PasswordResetRequest) error {
		fresh := *req
		user.Reset = &fresh
		return nil
	}
	env := newTestEnv(repo)

	if err := env.svc.RequestPasswordReset(context.Background(), user.Email, "10.0.0.9"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}

	// The overwrite leaves only the newest token live; the old link dies.
	err := env.svc.VerifyResetCode(context.Background(), oldToken, "111111")
	if !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("old token error = %v, want ErrInvalidOrExpired", err)
	}
	if err := env.svc.VerifyResetCode(context.Background(), user.Reset.Token, user.Reset.Code); err != nil {
		t.Fatalf("new token error = %v", err)
	}
}

// resetRepo returns a repo whose FindByResetToken serves user when the
// token matches its outstanding request.
func resetRepo(user *User) *mockUserRepo {
	return &mockUserRepo{
		findByResetTokenFn: func(_ context.Context, token string) (*User, error) {
			if user.Reset != nil && user.Reset.Token == token {
				return user, nil
			}
			return nil, apperror.NewNotFound("user not found")
		},
		markResetVerifyFn: func(context.Context, int64) error {
			user.Reset.Verified = true
			return nil
		},
	}
}

func TestVerifyResetCode(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Reset = &PasswordResetRequest{
		Token:     strings.Repeat("ab", 32),
		Code:      "004217",
		ExpiresAt: testNow.Add(24 * time.Hour),
	}
	env := newTestEnv(resetRepo(user))

	if err := env.svc.VerifyResetCode(context.Background(), "", "004217"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("empty token error = %v, want ErrInvalidOrExpired", err)
	}
	if err := env.svc.VerifyResetCode(context.Background(), "deadbeef", "004217"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("unknown token error = %v, want ErrInvalidOrExpired", err)
	}
	if err := env.svc.VerifyResetCode(context.Background(), user.Reset.Token, "4217"); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("short code error = %v, want ErrCodeMismatch", err)
	}
	if user.Reset.Verified {
		t.Fatal("request verified by a wrong code")
	}

	if err := env.svc.VerifyResetCode(context.Background(), user.Reset.Token, "004217"); err != nil {
		t.Fatalf("VerifyResetCode() error = %v", err)
	}
	if !user.Reset.Verified {
		t.Error("request not marked verified")
	}
}

func TestVerifyResetCodeExpired(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Reset = &PasswordResetRequest{
		Token:     strings.Repeat("ab", 32),
		Code:      "004217",
		ExpiresAt: testNow.Add(-time.Minute),
	}
	env := newTestEnv(resetRepo(user))

	// Expired answers exactly like unknown.
	err := env.svc.VerifyResetCode(context.Background(), user.Reset.Token, "004217")
	if !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("VerifyResetCode() error = %v, want ErrInvalidOrExpired", err)
	}
}

func TestCompletePasswordResetRequiresVerification(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Reset = &PasswordResetRequest{
		Token:     strings.Repeat("ab", 32),
		Code:      "004217",
		ExpiresAt: testNow.Add(24 * time.Hour),
	}
	env := newTestEnv(resetRepo(user))

	err := env.svc.CompletePasswordReset(context.Background(), CompleteResetRequest{
		Token: user.Reset.Token, NewPassword: "new-silo-7", Confirm: "new-silo-7",
	}, "10.0.0.9")
	if !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("CompletePasswordReset() error = %v, want ErrInvalidOrExpired for unverified token", err)
	}
}

func TestCompletePasswordResetExpiresBetweenSteps(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Reset = &PasswordResetRequest{
		Token:     strings.Repeat("ab", 32),
		Code:      "004217",
		ExpiresAt: testNow.Add(time.Hour),
	}
	env := newTestEnv(resetRepo(user))

	if err := env.svc.VerifyResetCode(context.Background(), user.Reset.Token, "004217"); err != nil {
		t.Fatalf("VerifyResetCode() error = %v", err)
	}

	// The request lapses between verification and completion. Expiry is
	// rechecked, so the stale verification does not carry through.
	env.advance(2 * time.Hour)

	err := env.svc.CompletePasswordReset(context.Background(), CompleteResetRequest{
		Token: user.Reset.Token, NewPassword: "new-silo-7", Confirm: "new-silo-7",
	}, "10.0.0.9")
	if !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("CompletePasswordReset() error = %v, want ErrInvalidOrExpired", err)
	}
}

func TestCompletePasswordResetSuccess(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	user.Reset = &PasswordResetRequest{
		Token:     strings.Repeat("ab", 32),
		Code:      "004217",
		ExpiresAt: testNow.Add(24 * time.Hour),
		Verified:  true,
	}

	repo := resetRepo(user)
	var newHash string
	repo.completeResetFn = func(_ context.Context, id int64, hash string) error {
		if id != user.ID {
			return fmt.Errorf("reset completed for user %d, want %d", id, user.ID)
		}
		newHash = hash
		user.Reset = nil
		return nil
	}

	env := newTestEnv(repo)

	// Short passwords are rejected before any write.
	err := env.svc.CompletePasswordReset(context.Background(), CompleteResetRequest{
		Token: strings.Repeat("ab", 32), NewPassword: "tiny1", Confirm: "tiny1",
	}, "10.0.0.9")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Type != "validation_error" {
		t.Fatalf("short password error = %v, want validation error", err)
	}

	err = env.svc.CompletePasswordReset(context.Background(), CompleteResetRequest{
		Token: strings.Repeat("ab", 32), NewPassword: "new-silo-7", Confirm: "new-silo-7",
	}, "10.0.0.9")
	if err != nil {
		t.Fatalf("CompletePasswordReset() error = %v", err)
	}
	if ok, _ := verifyPassword("new-silo-7", newHash); !ok {
		t.Error("stored hash does not verify against the new password")
	}
	if got := env.log.last(t).category; got != audit.CategoryPasswordResetCompleted {
		t.Errorf("recorded %q, want %q", got, audit.CategoryPasswordResetCompleted)
	}

	// The cleared request makes the token dead for reuse.
	err = env.svc.CompletePasswordReset(context.Background(), CompleteResetRequest{
		Token: strings.Repeat("ab", 32), NewPassword: "another-one-8", Confirm: "another-one-8",
	}, "10.0.0.9")
	if !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("reuse error = %v, want ErrInvalidOrExpired", err)
	}
}

func TestMailFailureDoesNotFailFlows(t *testing.T) {
	user := testUser(t, "pasture-gate-42")
	env := newTestEnv(&mockUserRepo{
		findByEmailFn: func(context.Context, string) (*User, error) { return user, nil },
	})
	env.mail.fail = true

	// The request is persisted even when delivery fails; the user can
	// simply request again.
	if err := env.svc.RequestPasswordReset(context.Background(), user.Email, "10.0.0.9"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
}
