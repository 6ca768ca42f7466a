package config

import (
	"errors"
	"os"
	"time"
)

type Config struct {
	HTTPAddr  string
	Env       string
	JWTSecret string
	DBDSN     string
	UsersPath string
	SentryDSN string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MaxFailedLogins int
	LockoutDuration time.Duration

	AuthRateMax    int
	AuthRateWindow time.Duration
	APIRateMax     int
	APIRateWindow  time.Duration
}

// ErrMissingSecret aborts startup: issuing tokens with an empty or default
// secret would make every deployment forgeable.
var ErrMissingSecret = errors.New("AEGISD_JWT_SECRET environment variable must be set")

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:  getenv("AEGISD_HTTP_ADDR", ":8443"),
		Env:       getenv("AEGISD_ENV", "development"),
		JWTSecret: os.Getenv("AEGISD_JWT_SECRET"),
		DBDSN:     os.Getenv("AEGISD_DB_DSN"),
		UsersPath: getenv("AEGISD_USERS_PATH", "config/users.yaml"),
		SentryDSN: os.Getenv("SENTRY_DSN"),

		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		MaxFailedLogins: 5,
		LockoutDuration: 30 * time.Minute,

		AuthRateMax:    5,
		AuthRateWindow: time.Minute,
		APIRateMax:     30,
		APIRateWindow:  time.Minute,
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	return cfg, nil
}

func (c Config) Development() bool {
	return c.Env == "development"
}
