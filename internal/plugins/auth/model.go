// Package auth handles credential verification, session management, and the
// two password flows (authenticated change and token-driven reset) for
// Farmstead. Sessions are opaque tokens stored in Redis; passwords are hashed
// with argon2id; one-time codes and reset tokens come from crypto/rand and
// are delivered out-of-band via the mailer -- never in a response payload.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// User account status values. A blocked user may never obtain an
// authenticated session regardless of credential correctness.
const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// User represents a registered Farmstead user. This is the domain model used
// throughout the application. Database scanning uses this struct directly.
type User struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"` // Never expose in JSON responses.
	Status       string  `json:"status"`
	RoleID       *int64  `json:"role_id,omitempty"`

	// Reset is the outstanding password-reset request, nil when none.
	// At most one request exists per user; issuing a new one overwrites it.
	Reset *PasswordResetRequest `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// PasswordResetRequest is the reset state embedded in the users row. All
// fields are written together in one atomic update and cleared together on
// completion.
type PasswordResetRequest struct {
	// Token is the 256-bit hex-encoded correlation token carried in the
	// reset link.
	Token string

	// Code is the 6-digit one-time code delivered out-of-band. Leading
	// zeros are significant; comparisons are string-exact.
	Code string

	// ExpiresAt is when the request stops being honored.
	ExpiresAt time.Time

	// Verified is set once the code has been checked, gating the final
	// password write so it cannot be reached by token alone.
	Verified bool
}

// Expired reports whether the request is past its expiry at the given time.
func (r *PasswordResetRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// --- Session ---

// Session represents an authenticated user session stored in Redis.
// The session token is the key, and this struct is the value (JSON-encoded).
type Session struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	LoggedIn  bool      `json:"loggedin"`
	Role      string    `json:"role,omitempty"`
	RoleID    *int64    `json:"role_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Challenge is the transient change-password challenge. It lives only
	// inside the session value, so it dies with the session and is
	// implicitly invalidated by logout.
	Challenge *PasswordChangeChallenge `json:"change_password_challenge,omitempty"`
}

// IsAdmin reports whether the session's resolved role is the admin role.
func (s *Session) IsAdmin() bool {
	return s.Role == adminRoleName
}

// PasswordChangeChallenge is the one-time code a logged-in user must echo
// back to confirm a password change. Created only after the caller re-proves
// the current password; consumed on success or expiry.
type PasswordChangeChallenge struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest holds the data submitted by the login form.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// ChangePasswordStartRequest re-proves the current password before a
// change-password code is issued.
type ChangePasswordStartRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password"`
}

// ChangePasswordConfirmRequest completes a password change with the issued
// code and the new password.
type ChangePasswordConfirmRequest struct {
	Code        string `json:"code" form:"code"`
	NewPassword string `json:"new_password" form:"new_password"`
	Confirm     string `json:"confirm" form:"confirm"`
}

// ForgotPasswordRequest starts the reset flow for an email address.
type ForgotPasswordRequest struct {
	Email string `json:"email" form:"email"`
}

// VerifyResetRequest checks the one-time code against a reset token.
type VerifyResetRequest struct {
	Token string `json:"token" form:"token"`
	Code  string `json:"code" form:"code"`
}

// CompleteResetRequest sets the new password for a verified reset token.
type CompleteResetRequest struct {
	Token       string `json:"token" form:"token"`
	NewPassword string `json:"new_password" form:"new_password"`
	Confirm     string `json:"confirm" form:"confirm"`
}

// --- Service Input DTOs (passed from handler to service) ---

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Username string
	Password string

	// SourceAddr is the client IP recorded in the security-audit log.
	SourceAddr string
}
