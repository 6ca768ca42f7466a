package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(StorePolicy{MaxFailedAttempts: 5, LockoutDuration: 30 * time.Minute})
	if err := s.Create(context.Background(), "ops", "opspassword", RoleSecurity); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestAuthenticateSuccess(t *testing.T) {
	s := newTestStore(t)
	role, err := s.Authenticate(context.Background(), "ops", "opspassword")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if role != RoleSecurity {
		t.Fatalf("role = %q, want %q", role, RoleSecurity)
	}
}

func TestUnknownUserAndWrongPasswordSameVariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, errUnknown := s.Authenticate(ctx, "nobody", "whatever")
	_, errWrong := s.Authenticate(ctx, "ops", "not the password")

	var a, b *InvalidCredentialsError
	if !errors.As(errUnknown, &a) {
		t.Fatalf("unknown user error = %T, want *InvalidCredentialsError", errUnknown)
	}
	if !errors.As(errWrong, &b) {
		t.Fatalf("wrong password error = %T, want *InvalidCredentialsError", errWrong)
	}
	if a.Error() != b.Error() {
		t.Fatalf("error messages differ: %q vs %q", a.Error(), b.Error())
	}
}

func TestLockoutAfterMaxFailedAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Four failures leave the account unlocked with a decreasing budget.
	for i := 1; i <= 4; i++ {
		_, err := s.Authenticate(ctx, "ops", "bad")
		var invalid *InvalidCredentialsError
		if !errors.As(err, &invalid) {
			t.Fatalf("attempt %d: error = %v, want invalid credentials", i, err)
		}
		if want := 5 - i; invalid.AttemptsLeft != want {
			t.Fatalf("attempt %d: attempts left = %d, want %d", i, invalid.AttemptsLeft, want)
		}
	}
	if s.users["ops"].FailedAttempts != 4 {
		t.Fatalf("counter = %d, want 4", s.users["ops"].FailedAttempts)
	}
	if s.users["ops"].LockedUntil != nil {
		t.Fatalf("account locked before threshold")
	}

	// The fifth failure crosses the threshold and sets the lock.
	_, err := s.Authenticate(ctx, "ops", "bad")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("threshold attempt: error = %v, want locked", err)
	}

	// The lockout check runs before password verification, so even the
	// correct password fails now.
	_, err = s.Authenticate(ctx, "ops", "opspassword")
	if !errors.As(err, &locked) {
		t.Fatalf("locked account with correct password: error = %v, want locked", err)
	}
	if s.users["ops"].FailedAttempts != 5 {
		t.Fatalf("counter = %d, want 5", s.users["ops"].FailedAttempts)
	}
}

func TestLockoutExpiresAndClears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		_, _ = s.Authenticate(ctx, "ops", "bad")
	}
	if s.users["ops"].LockedUntil == nil {
		t.Fatalf("account not locked after threshold")
	}

	// Just before expiry: still locked.
	s.now = func() time.Time { return base.Add(30*time.Minute - time.Second) }
	_, err := s.Authenticate(ctx, "ops", "opspassword")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("before expiry: error = %v, want locked", err)
	}

	// After expiry: lock and counter clear, correct password succeeds.
	s.now = func() time.Time { return base.Add(30*time.Minute + time.Second) }
	role, err := s.Authenticate(ctx, "ops", "opspassword")
	if err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if role != RoleSecurity {
		t.Fatalf("role = %q, want %q", role, RoleSecurity)
	}
	if s.users["ops"].FailedAttempts != 0 {
		t.Fatalf("counter = %d, want 0", s.users["ops"].FailedAttempts)
	}
	if s.users["ops"].LockedUntil != nil {
		t.Fatalf("lock not cleared after expiry")
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.Authenticate(ctx, "ops", "bad")
	}
	if _, err := s.Authenticate(ctx, "ops", "opspassword"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if s.users["ops"].FailedAttempts != 0 {
		t.Fatalf("counter = %d, want 0 after success", s.users["ops"].FailedAttempts)
	}
}

func TestCreateRejectsDuplicatesAndBadRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "ops", "other", RoleAdmin); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate create: error = %v, want ErrUserExists", err)
	}
	if err := s.Create(ctx, "eve", "pw", Role("superuser")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("bad role: error = %v, want ErrInvalidRole", err)
	}
}

func TestChangePassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ChangePassword(ctx, "ops", "wrong", "newpw"); err == nil {
		t.Fatalf("change with wrong old password succeeded")
	}
	if err := s.ChangePassword(ctx, "ops", "opspassword", "newpw"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := s.Authenticate(ctx, "ops", "opspassword"); err == nil {
		t.Fatalf("old password still valid")
	}
	if _, err := s.Authenticate(ctx, "ops", "newpw"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestConcurrentFailuresStayConsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Authenticate(ctx, "ops", "bad")
		}()
	}
	wg.Wait()

	if got := s.users["ops"].FailedAttempts; got != 3 {
		t.Fatalf("counter = %d after 3 concurrent failures, want 3", got)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.Exists(context.Background(), "ops")
	if err != nil || !ok {
		t.Fatalf("Exists(ops) = %v, %v", ok, err)
	}
	ok, err = s.Exists(context.Background(), "nobody")
	if err != nil || ok {
		t.Fatalf("Exists(nobody) = %v, %v", ok, err)
	}
}
