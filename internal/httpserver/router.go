package httpserver

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"aegisd/internal/auth"
	"aegisd/internal/probes"
	"aegisd/internal/ratelimit"
	"aegisd/internal/stream"
)

func NewRouter(
	logger *slog.Logger,
	authHandler *auth.Handler,
	tokenSvc *auth.TokenService,
	streamMgr *stream.Manager,
	collectors probes.Registry,
	authLimiter *ratelimit.Limiter,
	apiLimiter *ratelimit.Limiter,
) http.Handler {
	mux := http.NewServeMux()

	// Health check, unauthenticated and unthrottled.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Credential endpoints sit behind the strict limiter: they are the
	// credential-stuffing surface.
	mux.Handle("/api/auth", authLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("/api/refresh_token", authLimiter.Middleware(http.HandlerFunc(authHandler.Refresh)))

	secured := auth.JWTMiddleware(tokenSvc)

	mux.Handle("/api/admin/create_user", apiLimiter.Middleware(
		secured(auth.RequireRole(authHandler.CreateUser, auth.RoleAdmin))))

	statusHandler := &StatusHandler{Collectors: collectors, Logger: logger}
	mux.Handle("/api/status", apiLimiter.Middleware(secured(statusHandler)))

	directHandler := &DirectHandler{Collectors: collectors, Logger: logger}
	mux.Handle("/api/direct/", apiLimiter.Middleware(secured(directHandler)))

	mux.Handle("/api/stream/", apiLimiter.Middleware(streamMgr))

	return withCORS(mux)
}
