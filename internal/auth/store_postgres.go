package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements UserStore over a durable users table. The lockout
// protocol is identical to MemoryStore; row locking replaces the store mutex
// so concurrent attempts against one username stay serialized.
type PostgresStore struct {
	db     *sql.DB
	policy StorePolicy
	now    func() time.Time

	decoyHash string
}

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	username        TEXT PRIMARY KEY,
	password_hash   TEXT NOT NULL,
	role            TEXT NOT NULL,
	failed_attempts INT NOT NULL DEFAULT 0,
	locked_until    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
)`

func OpenPostgresStore(ctx context.Context, dsn string, policy StorePolicy) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, usersSchema); err != nil {
		return nil, err
	}
	if policy.MaxFailedAttempts <= 0 {
		policy.MaxFailedAttempts = DefaultPolicy().MaxFailedAttempts
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = DefaultPolicy().LockoutDuration
	}
	decoy, err := HashPassword("aegisd-decoy")
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, policy: policy, now: time.Now, decoyHash: decoy}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Authenticate(ctx context.Context, username, password string) (Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	var (
		hash        string
		role        Role
		attempts    int
		lockedUntil sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT password_hash, role, failed_attempts, locked_until FROM users WHERE username = $1 FOR UPDATE`,
		username).Scan(&hash, &role, &attempts, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		_, _ = VerifyPassword(password, s.decoyHash)
		return "", &InvalidCredentialsError{AttemptsLeft: s.policy.MaxFailedAttempts - 1}
	}
	if err != nil {
		return "", err
	}

	if lockedUntil.Valid {
		if now.Before(lockedUntil.Time) {
			return "", &LockedError{Until: lockedUntil.Time}
		}
		attempts = 0
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE username = $1`, username); err != nil {
			return "", err
		}
	}

	match, err := VerifyPassword(password, hash)
	if err != nil {
		return "", err
	}
	if !match {
		attempts++
		if attempts >= s.policy.MaxFailedAttempts {
			until := now.Add(s.policy.LockoutDuration)
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET failed_attempts = $2, locked_until = $3 WHERE username = $1`,
				username, attempts, until); err != nil {
				return "", err
			}
			if err := tx.Commit(); err != nil {
				return "", err
			}
			return "", &LockedError{Until: until}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET failed_attempts = $2 WHERE username = $1`, username, attempts); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return "", &InvalidCredentialsError{AttemptsLeft: s.policy.MaxFailedAttempts - attempts}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET failed_attempts = 0 WHERE username = $1`, username); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) Create(ctx context.Context, username, password string, role Role) error {
	if !ValidRole(role) {
		return ErrInvalidRole
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (username) DO NOTHING`,
		username, hash, role, s.now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *PostgresStore) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if _, err := s.Authenticate(ctx, username, oldPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE username = $1`, username, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE username = $1`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
