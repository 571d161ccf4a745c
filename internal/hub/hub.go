// Package hub wires the registry and the per-connection sessions together and
// exposes the relay API consumed by the lobby service.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RelayResult is the outcome of a relay attempt. Routing failures are normal
// result variants the caller branches on, never errors crossing the hub
// boundary.
type RelayResult int

const (
	// Delivered means the frame was queued on the target session's
	// transport in relay-call order.
	Delivered RelayResult = iota
	// NotFound means no session is currently registered under the name.
	NotFound
	// RelayTimeout means the target session's send path stayed full for
	// the whole send window. Callers treat it like NotFound.
	RelayTimeout
)

func (r RelayResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NotFound:
		return "not_found"
	case RelayTimeout:
		return "timeout"
	}
	return "invalid"
}

// Hub accepts world-server connections, owns the registry mapping names to
// live sessions, and relays point-to-point control messages. Hubs are
// explicitly constructed; independent instances share nothing, so tests can
// run several side by side.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry

	mu       sync.Mutex
	sessions map[*Session]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a hub with an empty registry.
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(),
		sessions: make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Accept wraps a freshly upgraded transport connection in an unauthenticated
// session and starts its read and write pumps. The session registers itself
// by name once it completes SERVER_CONNECT.
func (h *Hub) Accept(conn *websocket.Conn, addr string) *Session {
	s := newSession(h, conn, addr)

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		s.stop()
		_ = conn.Close()
		return s
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("connection accepted", "session", s.id, "addr", addr)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()

	return s
}

// Relay delivers one control message to the world server registered under
// name. It enqueues onto that session's send path with a bounded wait, so a
// stalled world server cannot stall the caller; frames relayed to a single
// name are delivered to its transport in the order the Relay calls returned.
func (h *Hub) Relay(name string, env Envelope) RelayResult {
	s, ok := h.registry.Lookup(name)
	if !ok {
		return NotFound
	}
	if !s.enqueue(env.Encode(), h.cfg.SendTimeout) {
		if s.closed() {
			return NotFound
		}
		h.logger.Warn("relay timed out", "server", name, "session", s.id)
		return RelayTimeout
	}
	return Delivered
}

// ConnectedNames returns a snapshot of the currently reachable world servers.
func (h *Hub) ConnectedNames() []string {
	return h.registry.Names()
}

// bind installs the (name -> session) mapping. When the registration
// displaces a live session, the displaced one is no longer reachable through
// the registry; whether its transport is also closed is the CloseDisplaced
// policy. Its eventual teardown cannot evict the new occupant because
// deregistration is compare-and-remove.
func (h *Hub) bind(name string, s *Session) {
	displaced := h.registry.Register(name, s)
	if displaced == nil {
		return
	}
	h.logger.Info("registration displaced an earlier session",
		"server", name, "displaced_session", displaced.id, "session", s.id)
	if h.cfg.CloseDisplaced {
		displaced.stop()
	}
}

// answerReachability builds the CLIENT_CONNECT_RESULT for a reachability
// query. A reachable world gets a fresh single-use handoff token; the actual
// connection handoff is the caller's business.
func (h *Hub) answerReachability(name string) Envelope {
	if _, ok := h.registry.Lookup(name); ok {
		return NewEnvelope(KindClientConnectResult, ClientConnectResultData{
			Message: "server reachable",
			Success: true,
			Token:   uuid.NewString(),
		})
	}
	return NewEnvelope(KindClientConnectResult, ClientConnectResultData{
		Message: "server not connected",
		Success: false,
	})
}

func (h *Hub) forget(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Shutdown stops accepting sessions, closes every live connection, and waits
// for the pump goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.stop()
		if s.conn == nil {
			continue
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("closing session connection", "session", s.id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown complete", "sessions_closed", len(sessions))
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
