package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aegisd/internal/auth"
	"aegisd/internal/perm"
	"aegisd/internal/probes"
)

const (
	wsBufferSize     = 4096
	maxInboundBytes  = 64 * 1024
	defaultHeartbeat = 5 * time.Second
	defaultTimeout   = 10 * time.Second
)

type Options struct {
	// Per-channel push cadence. Security runs slowest because its probe
	// shells out to several system tools per tick.
	PushIntervals map[perm.Channel]time.Duration
	PingInterval  time.Duration
	IdleTimeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		PushIntervals: map[perm.Channel]time.Duration{
			perm.ChannelNetwork:  3 * time.Second,
			perm.ChannelLogs:     5 * time.Second,
			perm.ChannelSecurity: 15 * time.Second,
		},
		PingInterval: defaultHeartbeat,
		IdleTimeout:  defaultTimeout,
	}
}

// Manager authenticates stream upgrades and owns the live session table.
type Manager struct {
	tokens     *auth.TokenService
	collectors probes.Registry
	logger     *slog.Logger
	opts       Options
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(tokens *auth.TokenService, collectors probes.Registry, logger *slog.Logger, opts Options) *Manager {
	if opts.PushIntervals == nil {
		opts.PushIntervals = DefaultOptions().PushIntervals
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultHeartbeat
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultTimeout
	}
	return &Manager{
		tokens:     tokens,
		collectors: collectors,
		logger:     logger,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP handles GET /api/stream/{channel}. Authentication and channel
// validation happen before the upgrade; the permission check answers on the
// socket so the client gets an explicit denial instead of a dropped upgrade.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := perm.Channel(strings.TrimPrefix(r.URL.Path, "/api/stream/"))

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r)
	}
	username, role, err := m.tokens.Validate(token)
	if err != nil {
		m.logger.Warn("unauthorized stream attempt", "channel", channel, "remote", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
		return
	}

	if !perm.ValidChannel(channel) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid channel"})
		return
	}

	collector, ok := m.collectors.Get(string(channel))
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid channel"})
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade", "err", err)
		return
	}
	conn.SetReadLimit(maxInboundBytes)

	s := &Session{
		ID:           uuid.NewString(),
		Channel:      channel,
		Username:     username,
		Role:         role,
		conn:         conn,
		collector:    collector,
		logger:       m.logger,
		pushInterval: m.opts.PushIntervals[channel],
		pingInterval: m.opts.PingInterval,
		idleTimeout:  m.opts.IdleTimeout,
		payloads:     make(chan []byte, payloadBuffer),
		frames:       make(chan inboundFrame),
		done:         make(chan struct{}),
	}
	if s.pushInterval <= 0 {
		s.pushInterval = DefaultOptions().PushIntervals[channel]
	}
	s.setState(StateAuthenticating)

	if !perm.CanStream(role, channel) {
		s.setState(StateRejected)
		m.logger.Warn("stream permission denied", "channel", channel, "username", username, "role", role)
		data, _ := json.Marshal(map[string]string{"error": "permission denied"})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		s.writeClose(websocket.ClosePolicyViolation, "permission denied")
		_ = conn.Close()
		s.setState(StateClosed)
		return
	}
	s.setState(StateAuthorized)

	m.register(s)
	defer m.unregister(s)

	m.logger.Info("stream session started", "session", s.ID, "channel", channel, "username", username)
	s.run(r.Context())
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
}

func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll shuts every live session down, used on server shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Shutdown()
	}

	// Wait briefly for handlers to drain.
	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if m.ActiveSessions() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}
