// Package hub manages individual world-server connections: each Session wraps
// one WebSocket, drives the protocol state machine over inbound frames, and
// runs the read/write pumps for its transport.
package hub

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write to the transport.
	writeWait = 10 * time.Second
	// pongWait is the read deadline for authenticated sessions; pongs
	// refresh it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so pings arrive in time.
	pingPeriod = 54 * time.Second
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	}
	return "invalid"
}

// decision is the effect set produced by one protocol step. decide is a pure
// function of (state, lastKnownName, frame, secret); applying the effects is
// the session's job, which keeps the state machine testable without any
// transport.
type decision struct {
	next     sessionState
	name     string    // lastKnownName after this step
	reply    *Envelope // frame to queue on the session's own send path
	register string    // name to install in the registry before replying
	query    string    // world name whose reachability to answer
	close    bool      // close the transport after flushing the reply
	drop     string    // non-empty: the frame is ignored, with this reason
}

func decide(state sessionState, lastName string, env Envelope, secret string) decision {
	d := decision{next: state, name: lastName}
	if state == stateClosed {
		d.drop = "session already closed"
		return d
	}

	switch env.Kind {
	case KindServerConnect:
		var req ServerConnectData
		if err := json.Unmarshal(env.Data, &req); err != nil {
			d.drop = "malformed SERVER_CONNECT payload"
			return d
		}
		if req.Name == "" || !tokenMatches(req.Token, secret) {
			// Authentication failure is terminal: reply, then close.
			reply := NewEnvelope(KindServerConnectResult, ServerConnectResultData{
				Message: "registration rejected",
				Success: false,
			})
			d.reply = &reply
			d.close = true
			d.next = stateClosed
			return d
		}
		reply := NewEnvelope(KindServerConnectResult, ServerConnectResultData{
			Message:  "registration accepted",
			Success:  true,
			ServerID: req.Name,
		})
		d.reply = &reply
		d.next = stateAuthenticated
		d.name = req.Name
		d.register = req.Name
		return d

	case KindClientConnect:
		if state != stateAuthenticated {
			// Only registered world servers may proxy reachability
			// queries for incoming clients.
			d.drop = "CLIENT_CONNECT before authentication"
			return d
		}
		var req ClientConnectData
		if err := json.Unmarshal(env.Data, &req); err != nil {
			d.drop = "malformed CLIENT_CONNECT payload"
			return d
		}
		d.query = req.ServerName
		return d

	default:
		// Recognized kind arriving in a state where it is not expected:
		// ignored, the session stays open.
		d.drop = "unexpected " + env.Kind.String()
		return d
	}
}

// Session wraps exactly one world-server transport connection. The hub owns
// the session for the connection's lifetime; the session exclusively owns the
// transport handle; the registry holds a lookup-only reference keyed by name.
type Session struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	addr string

	// send is the single per-session outbound path. Protocol replies and
	// hub-initiated relays both funnel through it, so FIFO per session is
	// the delivery guarantee.
	send chan []byte
	done chan struct{}
	once sync.Once

	mu            sync.Mutex
	state         sessionState
	lastKnownName string

	limiter *rateLimiter
	logger  *slog.Logger
}

func newSession(h *Hub, conn *websocket.Conn, addr string) *Session {
	cfg := h.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		hub:     h,
		addr:    addr,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		state:   stateUnauthenticated,
		limiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
	}
	s.logger = h.logger.With("session", s.id, "addr", addr)
	return s
}

func (s *Session) snapshot() (sessionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastKnownName
}

func (s *Session) authenticated() bool {
	st, _ := s.snapshot()
	return st == stateAuthenticated
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue places one encoded frame on the session's send path, waiting at
// most timeout for buffer space. It never blocks unboundedly: a stalled
// world server cannot stall the caller.
func (s *Session) enqueue(frame []byte, timeout time.Duration) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		return false
	}
}

// stop signals both pumps to wind down. Frames already queued are flushed by
// the write pump before it sends the close frame. Safe to call repeatedly.
func (s *Session) stop() {
	s.once.Do(func() { close(s.done) })
}

// setupRead arms the pre-authentication read deadline and the pong handler.
// An unauthenticated session must complete SERVER_CONNECT within the auth
// window or the next read fails and tears the session down; once
// authenticated, pongs keep extending the normal deadline.
func (s *Session) setupRead() {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.AuthTimeout)); err != nil {
		s.logger.Warn("setting auth read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if s.authenticated() {
			return s.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})
}

func (s *Session) readPump() {
	defer s.teardown()

	s.setupRead()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.limiter.allow() {
			s.logger.Warn("rate limit exceeded; discarding frame")
			continue
		}

		env, err := DecodeEnvelope(raw)
		if err != nil {
			// Protocol error: drop the frame, keep the connection.
			s.logger.Warn("dropping frame", "error", err)
			continue
		}

		s.handle(env)
	}
}

// handle runs one protocol step: consult decide, then apply its effects in
// order (registry install, reply, reachability answer, close).
func (s *Session) handle(env Envelope) {
	st, prevName := s.snapshot()
	d := decide(st, prevName, env, s.hub.cfg.SharedSecret)

	if d.drop != "" {
		s.logger.Warn("ignoring frame", "kind", env.Kind.String(), "state", st.String(), "reason", d.drop)
	}

	s.mu.Lock()
	s.state = d.next
	s.lastKnownName = d.name
	s.mu.Unlock()

	if d.register != "" {
		// A re-registration under a new name releases the old entry,
		// but only if this session still owns it.
		if prevName != "" && prevName != d.register {
			s.hub.registry.Unregister(prevName, s)
		}
		s.hub.bind(d.register, s)
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.logger.Warn("setting read deadline", "error", err)
		}
		s.logger.Info("world server registered", "server", d.register)
	}

	if d.reply != nil {
		s.enqueue(d.reply.Encode(), s.hub.cfg.SendTimeout)
	}

	if d.query != "" {
		reply := s.hub.answerReachability(d.query)
		s.enqueue(reply.Encode(), s.hub.cfg.SendTimeout)
	}

	if d.close {
		s.logger.Info("closing session", "reason", "authentication failed")
		s.stop()
	}
}

// teardown runs exactly once, from the read pump's exit path. Deregistration
// is compare-and-remove on lastKnownName: if a newer session has since taken
// the name, the entry is left untouched.
func (s *Session) teardown() {
	s.stop()

	s.mu.Lock()
	name := s.lastKnownName
	s.state = stateClosed
	s.mu.Unlock()

	if name != "" && s.hub.registry.Unregister(name, s) {
		s.logger.Info("world server deregistered", "server", name)
	}
	s.hub.forget(s)

	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("closing connection", "error", err)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("closing connection", "error", err)
		}
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.writeFrame(frame) {
				return
			}
		case <-ticker.C:
			if !s.writePing() {
				return
			}
		case <-s.done:
			s.flushAndClose()
			return
		}
	}
}

// flushAndClose drains frames that were queued before the stop signal (an
// authentication-failure reply must reach the peer before the close frame),
// then sends the close frame.
func (s *Session) flushAndClose() {
	for {
		select {
		case frame := <-s.send:
			if !s.writeFrame(frame) {
				return
			}
		default:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil && !isExpectedCloseError(err) {
				s.logger.Warn("writing close frame", "error", err)
			}
			return
		}
	}
}

func (s *Session) writeFrame(frame []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Warn("setting write deadline", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Warn("writing frame", "error", err)
		}
		return false
	}
	return true
}

func (s *Session) writePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Warn("writing ping", "error", err)
		}
		return false
	}
	return true
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("frame exceeded maximum size", "limit", s.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.logger.Info("peer disconnected", "error", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		s.logger.Info("connection closed", "error", err)
	default:
		s.logger.Warn("read error", "error", err)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
