package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

// failureFloor is the minimum latency of any failed authentication response.
// It keeps unknown-username and wrong-password paths indistinguishable by
// timing.
const failureFloor = 500 * time.Millisecond

type Handler struct {
	tokens *TokenService
	store  UserStore
	logger *slog.Logger

	// Overridden in tests to avoid real sleeps.
	floor time.Duration
}

func NewHandler(tokens *TokenService, store UserStore, logger *slog.Logger) *Handler {
	return &Handler{tokens: tokens, store: store, logger: logger, floor: failureFloor}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// Login handles POST /api/auth.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	start := time.Now()
	role, err := h.store.Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		h.padFailure(start)

		var invalid *InvalidCredentialsError
		if errors.As(err, &invalid) {
			h.logger.Warn("authentication failed", "username", body.Username, "attempts_left", invalid.AttemptsLeft)
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":         "invalid credentials",
				"attempts_left": invalid.AttemptsLeft,
			})
			return
		}
		var locked *LockedError
		if errors.As(err, &locked) {
			h.logger.Warn("authentication attempt on locked account", "username", body.Username)
			w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter(time.Now()).Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":        "account temporarily locked",
				"locked_until": locked.Until.UTC().Format(time.RFC3339),
			})
			return
		}

		sentry.CaptureException(err)
		h.logger.Error("authenticate", "err", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	pair, err := h.tokens.Issue(body.Username, role)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("issue tokens", "err", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	h.logger.Info("user authenticated", "username", body.Username, "role", role)
	writeJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /api/refresh_token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body refreshRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		sentry.CaptureException(err)
		h.logger.Error("refresh tokens", "err", err)
		writeError(w, http.StatusInternalServerError, "token refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// CreateUser handles POST /api/admin/create_user. Admin gating happens in the
// router via RequireRole.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createUserRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := h.store.Create(r.Context(), body.Username, body.Password, body.Role); err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			writeError(w, http.StatusBadRequest, "user already exists")
		case errors.Is(err, ErrInvalidRole):
			writeError(w, http.StatusBadRequest, "invalid role")
		default:
			sentry.CaptureException(err)
			h.logger.Error("create user", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	p, _ := PrincipalFromContext(r.Context())
	h.logger.Info("user created", "username", body.Username, "role", body.Role, "created_by", p.Username)
	writeJSON(w, http.StatusCreated, map[string]any{
		"username": body.Username,
		"role":     body.Role,
	})
}

// padFailure sleeps out the remainder of the failure floor.
func (h *Handler) padFailure(start time.Time) {
	if rest := h.floor - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
