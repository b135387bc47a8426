// Package validate holds the pure-function field validation helpers shared
// by form handlers. Each helper returns an error message, or empty string
// when the value passes. Keeping these as plain functions with no
// dependencies makes them trivially reusable across plugins.
package validate

import (
	"fmt"
	"net/mail"
	"strings"
)

// Required checks that a trimmed value is non-empty.
func Required(field, value string) string {
	if strings.TrimSpace(value) == "" {
		return field + " is required"
	}
	return ""
}

// MaxLength checks that a value does not exceed max bytes.
func MaxLength(field, value string, max int) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be at most %d characters", field, max)
	}
	return ""
}

// MinLength checks that a value is at least min bytes.
func MinLength(field, value string, min int) string {
	if len(value) < min {
		return fmt.Sprintf("%s must be at least %d characters", field, min)
	}
	return ""
}

// EmailFormat checks that a value parses as a bare RFC 5322 address.
// Addresses with display names ("Alice <a@b.c>") are rejected.
func EmailFormat(value string) string {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "a valid email address is required"
	}
	return ""
}

// FirstError runs the given checks in order and returns the first non-empty
// message, or empty string when all pass.
func FirstError(checks ...string) string {
	for _, msg := range checks {
		if msg != "" {
			return msg
		}
	}
	return ""
}
