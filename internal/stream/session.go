package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"aegisd/internal/auth"
	"aegisd/internal/perm"
	"aegisd/internal/probes"
)

// Session owns one streaming connection. All writes happen on the event
// loop goroutine, so pushes, command replies and heartbeat pings reach the
// peer in the order they were generated. The read pump is the only other
// goroutine touching the connection and it only reads.
type Session struct {
	ID       string
	Channel  perm.Channel
	Username string
	Role     auth.Role

	conn      *websocket.Conn
	collector probes.Collector
	logger    *slog.Logger

	pushInterval time.Duration
	pingInterval time.Duration
	idleTimeout  time.Duration

	state        atomic.Int32
	lastActivity atomic.Int64

	payloads chan []byte
	frames   chan inboundFrame
	done     chan struct{}
	closing  sync.Once
}

type inboundFrame struct {
	messageType int
	data        []byte
}

const payloadBuffer = 8

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - s.lastActivity.Load())
}

// Shutdown asks the session to stop. Safe to call from any goroutine and
// more than once.
func (s *Session) Shutdown() {
	s.closing.Do(func() { close(s.done) })
}

// run drives the session until the peer goes away, the heartbeat watchdog
// fires, or Shutdown is called. It returns only after the connection is
// closed; no frame is written afterwards.
func (s *Session) run(ctx context.Context) {
	defer func() {
		s.setState(StateClosed)
		s.Shutdown() // release any probe goroutine still queueing a payload
		_ = s.conn.Close()
		s.logger.Info("stream session closed", "session", s.ID, "channel", s.Channel, "username", s.Username)
	}()

	s.touch()
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	s.conn.SetPingHandler(func(message string) error {
		s.touch()
		err := s.conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go s.readPump()

	s.setState(StateStreaming)

	pushTicker := time.NewTicker(s.pushInterval)
	defer pushTicker.Stop()
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	// First payload goes out immediately rather than one interval in.
	s.collectAsync(ctx)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosing)
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return
		case <-s.done:
			s.setState(StateClosing)
			return
		case <-pushTicker.C:
			s.collectAsync(ctx)
		case <-pingTicker.C:
			if s.idleFor() > s.idleTimeout {
				s.setState(StateTimedOut)
				s.logger.Warn("stream client timeout", "session", s.ID, "username", s.Username)
				s.writeClose(websocket.CloseNormalClosure, "heartbeat timeout")
				return
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pingInterval)); err != nil {
				return
			}
		case payload := <-s.payloads:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case frame, ok := <-s.frames:
			if !ok {
				// Read pump ended: peer close or protocol failure.
				s.setState(StateClosing)
				return
			}
			if !s.handleFrame(ctx, frame) {
				return
			}
		}
	}
}

// readPump forwards inbound frames to the event loop. Any read error,
// including a peer close, terminates it and closes the frames channel.
func (s *Session) readPump() {
	defer close(s.frames)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touch()
		select {
		case s.frames <- inboundFrame{messageType: messageType, data: data}:
		case <-s.done:
			return
		}
	}
}

type command struct {
	Command string `json:"command"`
}

// handleFrame processes one inbound frame on the event loop. Returns false
// when the session should stop.
func (s *Session) handleFrame(ctx context.Context, frame inboundFrame) bool {
	if frame.messageType == websocket.BinaryMessage {
		return s.writeJSON(map[string]string{"error": "binary messages not supported"})
	}

	var cmd command
	if err := json.Unmarshal(frame.data, &cmd); err != nil {
		return s.writeJSON(map[string]string{"error": "invalid message"})
	}
	switch cmd.Command {
	case "pause":
		return s.writeJSON(map[string]string{"status": "paused"})
	case "resume":
		return s.writeJSON(map[string]string{"status": "resumed"})
	case "refresh":
		// One out-of-band probe push, outside the normal schedule.
		s.collectAsync(ctx)
		return true
	default:
		return s.writeJSON(map[string]string{"error": "unknown command"})
	}
}

// collectAsync invokes the probe off the event loop so a slow collector never
// stalls pushes, pings or command handling. The result is queued back for an
// ordered write.
func (s *Session) collectAsync(ctx context.Context) {
	go func() {
		data, err := s.collector.Collect(ctx)
		var payload []byte
		if err != nil {
			// Probe failure is a soft error delivered in-band, not a reason
			// to drop the session.
			payload, _ = json.Marshal(map[string]string{"error": "data collection error: " + err.Error()})
		} else {
			payload = data
		}
		select {
		case s.payloads <- payload:
		case <-s.done:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) writeJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (s *Session) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
