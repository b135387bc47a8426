// Package audit provides the security-audit log. Every authentication
// attempt and administrative security action is captured as a SecurityEvent
// and persisted to the security_events table. Logging is best-effort: a
// failure to record an event never blocks or alters the primary operation.
package audit

import "time"

// Event category constants follow the "resource.verb" pattern for
// consistent filtering and display grouping in the admin dashboard.
const (
	CategoryLoginSuccess           = "login.success"
	CategoryLoginFailed            = "login.failed"
	CategoryLoginBlocked           = "login.blocked"
	CategoryLogout                 = "logout"
	CategoryPasswordChangeStarted  = "password.change_started"
	CategoryPasswordChanged        = "password.changed"
	CategoryPasswordResetRequested = "password.reset_requested"
	CategoryPasswordResetCompleted = "password.reset_completed"
	CategoryRoleChanged            = "admin.role_changed"
	CategoryUserBlocked            = "admin.user_blocked"
	CategoryUserUnblocked          = "admin.user_unblocked"
)

// SecurityEvent represents a single recorded security event. UserID is nil
// when the actor could not be resolved (e.g. a login attempt for an unknown
// username).
type SecurityEvent struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	UserID    *int64    `json:"userId,omitempty"`
	Message   string    `json:"message"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`

	// Username is joined from the users table for display in the event
	// feed. Not stored in security_events -- populated at query time.
	Username string `json:"username,omitempty"`
}

// SecurityStats holds aggregate statistics for the admin security dashboard.
type SecurityStats struct {
	TotalEvents         int `json:"totalEvents"`
	FailedLogins24h     int `json:"failedLogins24h"`
	SuccessfulLogins24h int `json:"successfulLogins24h"`
	PasswordResets24h   int `json:"passwordResets24h"`
	UniqueIPs24h        int `json:"uniqueIps24h"`
}
