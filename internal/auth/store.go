package auth

import (
	"context"
	"sync"
	"time"
)

// UserStore is the credential store contract. The reference implementation is
// in-memory; PostgresStore provides the same protocol over a durable table.
type UserStore interface {
	// Authenticate verifies a password and maintains the failed-attempt
	// counter and lockout state. Unknown usernames and wrong passwords fail
	// with the same *InvalidCredentialsError.
	Authenticate(ctx context.Context, username, password string) (Role, error)
	Create(ctx context.Context, username, password string, role Role) error
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	Exists(ctx context.Context, username string) (bool, error)
}

type StorePolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

func DefaultPolicy() StorePolicy {
	return StorePolicy{
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
	}
}

type MemoryStore struct {
	mu     sync.Mutex
	users  map[string]*User
	policy StorePolicy
	now    func() time.Time

	// Verified against on unknown-username lookups so both failure paths pay
	// the same hashing cost.
	decoyHash string
}

func NewMemoryStore(policy StorePolicy) *MemoryStore {
	if policy.MaxFailedAttempts <= 0 {
		policy.MaxFailedAttempts = DefaultPolicy().MaxFailedAttempts
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = DefaultPolicy().LockoutDuration
	}
	decoy, err := HashPassword("aegisd-decoy")
	if err != nil {
		// rand.Read failing means the process has no usable entropy source.
		panic(err)
	}
	return &MemoryStore{
		users:     make(map[string]*User),
		policy:    policy,
		now:       time.Now,
		decoyHash: decoy,
	}
}

func (s *MemoryStore) Authenticate(ctx context.Context, username, password string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	u, ok := s.users[username]
	if !ok {
		_, _ = VerifyPassword(password, s.decoyHash)
		return "", &InvalidCredentialsError{AttemptsLeft: s.policy.MaxFailedAttempts - 1}
	}

	if u.LockedUntil != nil {
		if now.Before(*u.LockedUntil) {
			return "", &LockedError{Until: *u.LockedUntil}
		}
		u.LockedUntil = nil
		u.FailedAttempts = 0
	}

	match, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return "", err
	}
	if !match {
		u.FailedAttempts++
		if u.FailedAttempts >= s.policy.MaxFailedAttempts {
			until := now.Add(s.policy.LockoutDuration)
			u.LockedUntil = &until
			return "", &LockedError{Until: until}
		}
		return "", &InvalidCredentialsError{AttemptsLeft: s.policy.MaxFailedAttempts - u.FailedAttempts}
	}

	u.FailedAttempts = 0
	return u.Role, nil
}

func (s *MemoryStore) Create(ctx context.Context, username, password string, role Role) error {
	if !ValidRole(role) {
		return ErrInvalidRole
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	s.users[username] = &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	return nil
}

func (s *MemoryStore) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if _, err := s.Authenticate(ctx, username, oldPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok, nil
}
