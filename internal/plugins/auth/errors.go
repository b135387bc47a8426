package auth

import "errors"

// Flow-outcome sentinel errors. Handlers match these with errors.Is and map
// them to user-facing messages; anything else bubbles to the central error
// handler as an internal failure.
var (
	// ErrInvalidCredentials is the single answer for unknown username,
	// wrong password, and empty input. Deliberately indistinguishable so
	// login responses never confirm whether an account exists.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAccountBlocked is returned when credentials are correct but the
	// account status forbids login.
	ErrAccountBlocked = errors.New("account is blocked")

	// ErrWrongPassword is returned when the re-proved current password
	// does not match during the change-password flow.
	ErrWrongPassword = errors.New("current password is incorrect")

	// ErrChallengeMissing is returned when a change-password confirmation
	// arrives with no outstanding challenge in the session.
	ErrChallengeMissing = errors.New("no pending password change")

	// ErrChallengeExpired is returned when the challenge outlived its
	// window. The challenge is discarded; the flow must restart.
	ErrChallengeExpired = errors.New("confirmation code expired")

	// ErrCodeMismatch is returned when a submitted one-time code does not
	// match. The challenge or reset request stays live for another try.
	ErrCodeMismatch = errors.New("incorrect confirmation code")

	// ErrInvalidOrExpired is the single answer for unknown, expired, and
	// unverified reset tokens. Deliberately indistinguishable so the reset
	// endpoints never reveal which condition failed.
	ErrInvalidOrExpired = errors.New("invalid or expired reset link")
)
