// Package roles maps users to their role and answers authorization queries.
// The role set is a fixed, small enumeration seeded by migration and managed
// by administrators; a user has exactly zero or one role at a time.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package roles

// AdminRoleName is the reserved role name that grants administrative access.
const AdminRoleName = "admin"

// Role represents a named role assignable to users.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
