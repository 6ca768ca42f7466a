package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"aegisd/internal/auth"
	"aegisd/internal/perm"
	"aegisd/internal/probes"
)

// StatusHandler serves GET /api/status: a one-shot aggregated posture
// snapshot for any authenticated caller.
type StatusHandler struct {
	Collectors probes.Registry
	Logger     *slog.Logger
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	collector, ok := h.Collectors.Get("security")
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	data, err := collector.Collect(r.Context())
	if err != nil {
		h.Logger.Error("collect status", "err", err)
		writeJSONError(w, http.StatusServiceUnavailable, "security posture unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"security":  json.RawMessage(data),
	})
}

// DirectHandler serves GET /api/direct/{channel}: a one-shot fetch of the
// same payload the stream for that channel would push, under the same
// role check.
type DirectHandler struct {
	Collectors probes.Registry
	Logger     *slog.Logger
}

func (h *DirectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	channel := perm.Channel(strings.TrimPrefix(r.URL.Path, "/api/direct/"))
	if !perm.ValidChannel(channel) {
		writeJSONError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	if !perm.CanStream(p.Role, channel) {
		h.Logger.Warn("direct fetch denied", "channel", channel, "username", p.Username, "role", p.Role)
		writeJSONError(w, http.StatusForbidden, "permission denied")
		return
	}

	collector, ok := h.Collectors.Get(string(channel))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	data, err := collector.Collect(r.Context())
	if err != nil {
		h.Logger.Error("collect direct", "channel", channel, "err", err)
		writeJSONError(w, http.StatusServiceUnavailable, "data collection error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
