package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Principal is the authenticated identity carried on request contexts.
type Principal struct {
	Username string
	Role     Role
}

type contextKey string

const principalContextKey contextKey = "aegisd_principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// BearerToken extracts the access token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

func JWTMiddleware(svc *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			username, role, err := svc.Validate(token)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{Username: username, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(next http.HandlerFunc, roles ...Role) http.HandlerFunc {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		if _, ok := allowed[p.Role]; !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "permission denied"})
			return
		}
		next(w, r)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid or expired token"})
}
