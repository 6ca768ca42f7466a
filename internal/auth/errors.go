package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidRole  = errors.New("invalid role")

	// ErrTokenInvalid is the single caller-facing token failure. Malformed,
	// bad-signature and expired tokens all collapse into it so responses give
	// no oracle; the distinction lives in internal logs only.
	ErrTokenInvalid = errors.New("invalid or expired token")
)

// InvalidCredentialsError covers both unknown usernames and wrong passwords
// so the two are indistinguishable to callers.
type InvalidCredentialsError struct {
	AttemptsLeft int
}

func (e *InvalidCredentialsError) Error() string {
	return "invalid credentials"
}

// LockedError reports a temporary lockout after repeated failures.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}
