package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mossfield/farmstead/internal/apperror"
	"github.com/mossfield/farmstead/internal/mailer"
	"github.com/mossfield/farmstead/internal/plugins/audit"
	"github.com/mossfield/farmstead/internal/plugins/roles"
	"github.com/mossfield/farmstead/internal/validate"
)

const adminRoleName = roles.AdminRoleName

// Password length floors. The change flow predates the reset flow and kept
// its stricter floor when the two were reconciled.
const (
	minChangePasswordLen = 8
	minResetPasswordLen  = 6
)

// tokenRetryLimit bounds retries on the astronomically unlikely reset-token
// collision.
const tokenRetryLimit = 3

// AuthService defines the authentication business logic interface.
type AuthService interface {
	// Login verifies credentials and creates a session. Returns the
	// session token and the session. Credential failures come back as
	// ErrInvalidCredentials, a blocked account as ErrAccountBlocked.
	Login(ctx context.Context, input LoginInput) (string, *Session, error)

	// ValidateSession loads the session for a token.
	ValidateSession(ctx context.Context, token string) (*Session, error)

	// Logout destroys the session.
	Logout(ctx context.Context, token, sourceAddr string) error

	// RequestPasswordChange re-proves the current password, then issues a
	// one-time code into the session and mails it to the user.
	RequestPasswordChange(ctx context.Context, token, currentPassword, sourceAddr string) error

	// ConfirmPasswordChange checks the code and applies the new password.
	// The challenge is consumed on success and on expiry.
	ConfirmPasswordChange(ctx context.Context, token string, req ChangePasswordConfirmRequest, sourceAddr string) error

	// RequestPasswordReset issues a reset token and code for the account
	// with the given email, replacing any outstanding request.
	RequestPasswordReset(ctx context.Context, email, sourceAddr string) error

	// VerifyResetCode checks the one-time code against the reset token
	// and marks the request verified.
	VerifyResetCode(ctx context.Context, token, code string) error

	// CompletePasswordReset sets the new password for a verified, still
	// valid reset token, then clears the request.
	CompletePasswordReset(ctx context.Context, req CompleteResetRequest, sourceAddr string) error
}

type authService struct {
	repo     UserRepository
	sessions SessionStore
	roles    roles.RoleService
	security audit.SecurityLog
	mail     mailer.Sender

	baseURL      string
	challengeTTL time.Duration
	resetTTL     time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(
	repo UserRepository,
	sessions SessionStore,
	roleService roles.RoleService,
	security audit.SecurityLog,
	mail mailer.Sender,
	baseURL string,
	challengeTTL, resetTTL time.Duration,
) AuthService {
	return &authService{
		repo:         repo,
		sessions:     sessions,
		roles:        roleService,
		security:     security,
		mail:         mail,
		baseURL:      strings.TrimRight(baseURL, "/"),
		challengeTTL: challengeTTL,
		resetTTL:     resetTTL,
		now:          time.Now,
	}
}

// --- Login / logout ---

func (s *authService) Login(ctx context.Context, input LoginInput) (string, *Session, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if apperror.IsNotFound(err) {
			s.security.Record(ctx, audit.CategoryLoginFailed, nil,
				fmt.Sprintf("failed login for unknown username %q", username), input.SourceAddr)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	ok, err := verifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("verifying password: %w", err))
	}
	if !ok {
		s.security.Record(ctx, audit.CategoryLoginFailed, &user.ID,
			"failed login: wrong password", input.SourceAddr)
		return "", nil, ErrInvalidCredentials
	}

	// Correct credentials do not help a blocked account. Checked after
	// password verification so the audit trail distinguishes a blocked
	// owner from a guesser.
	if user.Status == StatusBlocked {
		s.security.Record(ctx, audit.CategoryLoginBlocked, &user.ID,
			"login attempt on blocked account", input.SourceAddr)
		return "", nil, ErrAccountBlocked
	}

	session := &Session{
		UserID:    user.ID,
		Username:  user.Username,
		LoggedIn:  true,
		CreatedAt: s.now(),
	}

	// Role resolution is best effort at login. A user without a role gets
	// a session with no role and is denied at the gates instead.
	if resolver, err := s.roles.NewResolver(ctx, user.ID); err != nil {
		slog.Warn("role resolution failed at login", "user_id", user.ID, "error", err)
	} else if role := resolver.Role(); role != nil {
		session.Role = role.Name
		session.RoleID = &role.ID
	}

	token, err := s.sessions.Create(ctx, session)
	if err != nil {
		return "", nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}
	s.security.Record(ctx, audit.CategoryLoginSuccess, &user.ID, "successful login", input.SourceAddr)

	return token, session, nil
}

func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	return s.sessions.Get(ctx, token)
}

func (s *authService) Logout(ctx context.Context, token, sourceAddr string) error {
	session, err := s.sessions.Get(ctx, token)
	if err == nil {
		s.security.Record(ctx, audit.CategoryLogout, &session.UserID, "logout", sourceAddr)
	}
	return s.sessions.Destroy(ctx, token)
}

// --- Change password (authenticated) ---

func (s *authService) RequestPasswordChange(ctx context.Context, token, currentPassword, sourceAddr string) error {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return err
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		return err
	}

	ok, err := verifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("verifying password: %w", err))
	}
	if !ok {
		return ErrWrongPassword
	}

	code, err := generateNumericCode()
	if err != nil {
		return apperror.NewInternal(err)
	}

	// The challenge lives in the session value, so it shares the
	// session's fate: logout or expiry kills it.
	session.Challenge = &PasswordChangeChallenge{Code: code, IssuedAt: s.now()}
	if err := s.sessions.Update(ctx, token, session); err != nil {
		return err
	}

	s.sendCode(ctx, user.Email, "Your Farmstead confirmation code",
		fmt.Sprintf("Hello %s,\r\n\r\nYour password change confirmation code is: %s\r\n\r\n"+
			"It expires in %d minutes. If you did not request this, change your password immediately.\r\n",
			user.Username, code, int(s.challengeTTL.Minutes())))

	s.security.Record(ctx, audit.CategoryPasswordChangeStarted, &user.ID,
		"password change requested", sourceAddr)
	return nil
}

func (s *authService) ConfirmPasswordChange(ctx context.Context, token string, req ChangePasswordConfirmRequest, sourceAddr string) error {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return err
	}

	challenge := session.Challenge
	if challenge == nil {
		return ErrChallengeMissing
	}

	if s.now().Sub(challenge.IssuedAt) > s.challengeTTL {
		// Expired challenges are discarded immediately, not left around
		// for a later lucky guess.
		session.Challenge = nil
		if err := s.sessions.Update(ctx, token, session); err != nil {
			slog.Warn("failed to discard expired challenge", "user_id", session.UserID, "error", err)
		}
		return ErrChallengeExpired
	}

	if !codeEqual(req.Code, challenge.Code) {
		return ErrCodeMismatch
	}

	if err := validateNewPassword(req.NewPassword, req.Confirm, minChangePasswordLen); err != nil {
		return err
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return apperror.NewInternal(err)
	}

	// Write the password first, then discard the challenge. If the
	// discard fails the code is merely reusable against an already
	// applied change, never the reverse.
	if err := s.repo.UpdatePassword(ctx, session.UserID, hash); err != nil {
		return err
	}

	session.Challenge = nil
	if err := s.sessions.Update(ctx, token, session); err != nil {
		slog.Warn("failed to discard consumed challenge", "user_id", session.UserID, "error", err)
	}

	s.security.Record(ctx, audit.CategoryPasswordChanged, &session.UserID,
		"password changed", sourceAddr)
	return nil
}

// --- Reset password (unauthenticated) ---

func (s *authService) RequestPasswordReset(ctx context.Context, email, sourceAddr string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if msg := validate.EmailFormat(email); msg != "" {
		return apperror.NewValidation(msg)
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := generateNumericCode()
	if err != nil {
		return apperror.NewInternal(err)
	}

	req := &PasswordResetRequest{
		Code:      code,
		ExpiresAt: s.now().Add(s.resetTTL),
	}

	for attempt := 0; ; attempt++ {
		req.Token, err = generateOpaqueToken()
		if err != nil {
			return apperror.NewInternal(err)
		}
		err = s.repo.SetResetRequest(ctx, user.ID, req)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateToken) || attempt+1 >= tokenRetryLimit {
			return err
		}
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, req.Token)
	s.sendCode(ctx, user.Email, "Reset your Farmstead password",
		fmt.Sprintf("Hello %s,\r\n\r\nA password reset was requested for your account.\r\n\r\n"+
			"Open this link: %s\r\nThen enter this code: %s\r\n\r\n"+
			"The link and code expire in %d hours. If you did not request this, you can ignore this message.\r\n",
			user.Username, link, code, int(s.resetTTL.Hours())))

	s.security.Record(ctx, audit.CategoryPasswordResetRequested, &user.ID,
		"password reset requested", sourceAddr)
	return nil
}

func (s *authService) VerifyResetCode(ctx context.Context, token, code string) error {
	user, err := s.findActiveReset(ctx, token)
	if err != nil {
		return err
	}

	if !codeEqual(code, user.Reset.Code) {
		return ErrCodeMismatch
	}

	return s.repo.MarkResetVerified(ctx, user.ID)
}

func (s *authService) CompletePasswordReset(ctx context.Context, req CompleteResetRequest, sourceAddr string) error {
	user, err := s.findActiveReset(ctx, req.Token)
	if err != nil {
		return err
	}

	// The final write is gated on the verified marker so possession of
	// the link alone never reaches a password change.
	if !user.Reset.Verified {
		return ErrInvalidOrExpired
	}

	if err := validateNewPassword(req.NewPassword, req.Confirm, minResetPasswordLen); err != nil {
		return err
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return apperror.NewInternal(err)
	}

	if err := s.repo.CompleteReset(ctx, user.ID, hash); err != nil {
		return err
	}

	s.security.Record(ctx, audit.CategoryPasswordResetCompleted, &user.ID,
		"password reset completed", sourceAddr)
	return nil
}

// findActiveReset loads the user for a reset token and answers
// ErrInvalidOrExpired uniformly for unknown and expired tokens. Expiry is
// checked here on every step, so a token that was live at verification can
// still lapse before completion.
func (s *authService) findActiveReset(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidOrExpired
	}

	user, err := s.repo.FindByResetToken(ctx, token)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, ErrInvalidOrExpired
		}
		return nil, err
	}

	if user.Reset == nil || user.Reset.Expired(s.now()) {
		return nil, ErrInvalidOrExpired
	}
	return user, nil
}

// sendCode delivers a one-time code by mail. Delivery failures are logged
// and swallowed: the flow state is already persisted and the user can
// restart if the mail never arrives. Codes are never placed in responses.
func (s *authService) sendCode(ctx context.Context, email, subject, body string) {
	if err := s.mail.SendMail(ctx, []string{email}, subject, body); err != nil {
		slog.Error("failed to send one-time code", "error", err)
	}
}

func validateNewPassword(password, confirm string, minLen int) error {
	if password == "" || confirm == "" {
		return apperror.NewValidation("new password and confirmation are required")
	}
	if len(password) < minLen {
		return apperror.NewValidation(fmt.Sprintf("password must be at least %d characters", minLen))
	}
	if password != confirm {
		return apperror.NewValidation("passwords do not match")
	}
	return nil
}
