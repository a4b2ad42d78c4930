package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotOpen is returned when sending outside the Open state
	ErrNotOpen = errors.New("transport is not open")

	// ErrAlreadyConnected is returned by Connect when not Disconnected
	ErrAlreadyConnected = errors.New("transport already connected")

	// ErrSendQueueFull is returned when the write pump cannot keep up
	ErrSendQueueFull = errors.New("send queue full")

	// ErrConnection wraps dial, read and write failures
	ErrConnection = errors.New("connection error")
)

// State is the connection lifecycle state
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Message types passed to a MessageHandler
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendQueueSize    = 16
	errorBufferSize         = 8
)

// MessageHandler receives inbound messages on the read pump goroutine
type MessageHandler func(messageType int, data []byte)

// Config contains WebSocket client configuration
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendQueueSize    int
	Header           http.Header
}

// Client is a persistent duplex WebSocket connection carrying binary frames out
// and text results in. Sends never block the caller; a write pump owns the socket.
type Client struct {
	config Config
	logger *slog.Logger
	dialer *websocket.Dialer

	state      State
	conn       *websocket.Conn
	sendQueue  chan []byte
	done       chan struct{} // closed to stop the write pump
	writerDone chan struct{} // closed by the write pump on exit
	handler    MessageHandler
	pumps      sync.WaitGroup

	errs chan error

	// Statistics
	framesSent       atomic.Uint64
	bytesSent        atomic.Uint64
	sendRejected     atomic.Uint64
	messagesReceived atomic.Uint64
	connectAttempts  atomic.Uint64
	connectionErrors atomic.Uint64
	lastConnected    atomic.Int64

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	URL              string    `json:"url"`
	State            string    `json:"state"`
	FramesSent       uint64    `json:"frames_sent"`
	BytesSent        uint64    `json:"bytes_sent"`
	SendRejected     uint64    `json:"send_rejected"`
	MessagesReceived uint64    `json:"messages_received"`
	ConnectAttempts  uint64    `json:"connect_attempts"`
	ConnectionErrors uint64    `json:"connection_errors"`
	LastConnected    time.Time `json:"last_connected,omitempty"`
}

// NewClient creates a WebSocket client for a ws:// or wss:// URL
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("websocket URL cannot be empty")
	}

	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket URL scheme must be ws or wss, got %q", u.Scheme)
	}

	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = defaultSendQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		logger: logger.With(slog.String("component", "transport")),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		errs: make(chan error, errorBufferSize),
	}, nil
}

// Connect dials the server. It only succeeds from Disconnected and never retries.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrAlreadyConnected, state)
	}
	c.state = Connecting
	c.mu.Unlock()

	// Pumps of a previous connection must be gone before new ones start.
	c.pumps.Wait()
	c.drainErrors()
	c.connectAttempts.Add(1)

	c.logger.Info("Connecting to server", slog.String("url", c.config.URL))

	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, c.config.Header)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()

		c.connectionErrors.Add(1)
		c.logger.Error("Failed to connect",
			slog.String("url", c.config.URL),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: failed to dial %s: %w", ErrConnection, c.config.URL, err)
	}

	queue := make(chan []byte, c.config.SendQueueSize)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.sendQueue = queue
	c.done = done
	c.writerDone = writerDone
	c.state = Open
	c.pumps.Add(2)
	c.mu.Unlock()

	c.lastConnected.Store(time.Now().UnixNano())

	go c.readPump(conn)
	go c.writePump(conn, queue, done, writerDone)

	c.logger.Info("Connected to server", slog.String("url", c.config.URL))
	return nil
}

// Send enqueues a binary frame for the write pump
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != Open {
		c.sendRejected.Add(1)
		return fmt.Errorf("%w: state is %s", ErrNotOpen, c.state)
	}

	select {
	case c.sendQueue <- frame:
		return nil
	default:
		c.sendRejected.Add(1)
		return fmt.Errorf("%w: %d frames pending", ErrSendQueueFull, len(c.sendQueue))
	}
}

// OnMessage registers the inbound message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Errors delivers asynchronous connection failures. The channel is never closed.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close drains queued frames, sends a close frame and waits for both pumps
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		c.pumps.Wait()
		return nil
	}
	c.state = Closing
	conn := c.conn
	writerDone := c.writerDone
	close(c.done)
	c.mu.Unlock()

	c.logger.Info("Closing connection", slog.String("url", c.config.URL))

	// Queued frames are written before the close handshake.
	<-writerDone

	deadline := time.Now().Add(c.config.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("Failed to send close frame", slog.String("error", err.Error()))
	}
	closeErr := conn.Close()

	c.pumps.Wait()

	c.mu.Lock()
	c.state = Disconnected
	c.conn = nil
	c.writerDone = nil
	c.mu.Unlock()

	c.logger.Info("Connection closed", slog.String("url", c.config.URL))
	return closeErr
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	stats := ClientStats{
		URL:              c.config.URL,
		State:            c.State().String(),
		FramesSent:       c.framesSent.Load(),
		BytesSent:        c.bytesSent.Load(),
		SendRejected:     c.sendRejected.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ConnectAttempts:  c.connectAttempts.Load(),
		ConnectionErrors: c.connectionErrors.Load(),
	}
	if ns := c.lastConnected.Load(); ns > 0 {
		stats.LastConnected = time.Unix(0, ns)
	}
	return stats
}

// URL returns the configured server URL
func (c *Client) URL() string {
	return c.config.URL
}
