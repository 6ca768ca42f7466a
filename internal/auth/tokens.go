package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService issues and validates HS256-signed tokens. Tokens are
// self-contained: validation touches only the signature and expiry, never the
// store. The role claim is frozen at issuance; a role change takes effect for
// a session only once its tokens expire.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      UserStore
	logger     *slog.Logger
	timeFunc   func() time.Time
}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, store UserStore, logger *slog.Logger) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		logger:     logger,
		timeFunc:   time.Now,
	}
}

func (s *TokenService) Issue(username string, role Role) (TokenPair, error) {
	access, err := s.sign(username, role, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(username, role, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *TokenService) sign(username string, role Role, ttl time.Duration) (string, error) {
	now := s.timeFunc().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Validate returns the embedded subject and role. Every failure collapses to
// ErrTokenInvalid; the concrete cause is logged at debug level only.
func (s *TokenService) Validate(tokenStr string) (string, Role, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(s.timeFunc),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			s.logger.Debug("token rejected", "reason", "expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			s.logger.Debug("token rejected", "reason", "bad signature")
		default:
			s.logger.Debug("token rejected", "reason", "malformed")
		}
		return "", "", ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", "", ErrTokenInvalid
	}
	return claims.Subject, claims.Role, nil
}

// Refresh validates a refresh token, re-checks that the subject still exists
// in the store, and issues a fresh pair with the same subject and role.
// Removing a user therefore cuts off future refreshes even while outstanding
// access tokens run out their clock.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	username, role, err := s.Validate(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	exists, err := s.store.Exists(ctx, username)
	if err != nil {
		return TokenPair{}, err
	}
	if !exists {
		s.logger.Debug("refresh rejected", "reason", "subject gone", "username", username)
		return TokenPair{}, ErrTokenInvalid
	}
	return s.Issue(username, role)
}
