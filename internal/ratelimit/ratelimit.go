// Package ratelimit provides a fixed-window request limiter keyed by client
// address. A window's counter resets wholesale when the window elapses, which
// accepts bursts across a window boundary; that trade is taken deliberately
// for a limiter whose state is one counter and one timestamp per client.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	count       int
	windowStart time.Time
}

type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*entry
	logger  *slog.Logger
	now     func() time.Time
}

func New(max int, window time.Duration, logger *slog.Logger) *Limiter {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		max:     max,
		window:  window,
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is within the
// limit. Expired entries are swept here, amortizing cleanup across requests
// instead of running a timer.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.entries {
		if k != key && now.Sub(e.windowStart) >= l.window {
			delete(l.entries, k)
		}
	}

	e, ok := l.entries[key]
	switch {
	case !ok:
		l.entries[key] = &entry{count: 1, windowStart: now}
	case now.Sub(e.windowStart) >= l.window:
		e.count = 1
		e.windowStart = now
	default:
		e.count++
		if e.count > l.max {
			return false, l.window
		}
	}
	return true, 0
}

// Middleware rejects over-limit requests with 429 before the wrapped handler
// runs.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r)
		allowed, retryAfter := l.Allow(key)
		if !allowed {
			if l.logger != nil {
				l.logger.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate limit exceeded, please try again later",
				"retry_after": int(retryAfter.Seconds()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP resolves the caller address, honoring the first hop of
// X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
