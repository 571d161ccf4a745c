// Package worldclient is the library a world-simulation process embeds to
// participate in the hub protocol: it dials the hub, registers under a name,
// and surfaces inbound control messages (player handoffs, reachability
// replies) on a channel.
//
// The client does not reconnect on its own; after a hub restart or a dropped
// connection the world server is expected to construct a fresh client and
// register again.
package worldclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fernandofader91-create/api/internal/hub"
)

var (
	// ErrNotConnected is returned by operations on a client that has not
	// connected or has been closed.
	ErrNotConnected = errors.New("not connected to hub")
	// ErrAlreadyClosed is returned by Connect after Close.
	ErrAlreadyClosed = errors.New("client already closed")
	// ErrRegistrationRejected means the hub refused SERVER_CONNECT.
	ErrRegistrationRejected = errors.New("hub rejected registration")
)

// Config holds the settings for one hub connection.
type Config struct {
	// URL is the hub's WebSocket endpoint, e.g. ws://hub:8080/ws.
	URL string
	// Name is the world-server name to register under.
	Name string
	// Token is the shared secret presented in SERVER_CONNECT.
	Token string
	// HandshakeTimeout bounds the dial. Zero means 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound frame. Zero means 10s.
	WriteTimeout time.Duration
	// BufferSize is the inbound message channel capacity. Zero means 64.
	BufferSize int
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
}

// Client is a single world-server connection to the hub.
type Client struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	messages chan hub.Envelope
	errs     chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// New creates a client; call Connect to dial and register.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan hub.Envelope, cfg.BufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the hub, performs SERVER_CONNECT, and waits for the
// registration result. On success the read loop starts and inbound messages
// flow on Messages.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}

	if err := c.register(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Info("registered with hub", "url", c.cfg.URL, "server", c.cfg.Name)
	return nil
}

// register sends SERVER_CONNECT and consumes the SERVER_CONNECT_RESULT reply.
func (c *Client) register(ctx context.Context, conn *websocket.Conn) error {
	env := hub.NewEnvelope(hub.KindServerConnect, hub.ServerConnectData{
		Name:  c.cfg.Name,
		Token: c.cfg.Token,
	})

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, env.Encode()); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read registration result: %w", err)
	}

	reply, err := hub.DecodeEnvelope(raw)
	if err != nil {
		return fmt.Errorf("decode registration result: %w", err)
	}
	if reply.Kind != hub.KindServerConnectResult {
		return fmt.Errorf("unexpected reply kind %s", reply.Kind)
	}

	var result hub.ServerConnectResultData
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		return fmt.Errorf("decode registration result payload: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrRegistrationRejected, result.Message)
	}

	// Clear the handshake deadline; the hub's pings keep the link alive
	// and gorilla's default ping handler answers them.
	return conn.SetReadDeadline(time.Time{})
}

// QueryServer asks the hub whether the named world is currently reachable.
// The CLIENT_CONNECT_RESULT reply arrives on Messages.
func (c *Client) QueryServer(name string) error {
	return c.send(hub.NewEnvelope(hub.KindClientConnect, hub.ClientConnectData{ServerName: name}))
}

// send writes one envelope to the connection.
func (c *Client) send(env hub.Envelope) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, env.Encode())
}

// Messages returns the channel of decoded inbound control messages.
func (c *Client) Messages() <-chan hub.Envelope {
	return c.messages
}

// Errors returns a channel carrying the connection error that ended the read
// loop, if any.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close gracefully closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				select {
				case c.errs <- err:
				default:
				}
			}
			return
		}

		env, err := hub.DecodeEnvelope(raw)
		if err != nil {
			c.logger.Warn("dropping frame from hub", "error", err)
			continue
		}

		select {
		case c.messages <- env:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message", "kind", env.Kind.String())
		}
	}
}
