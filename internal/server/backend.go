package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/audio"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/config"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/metrics"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/protocol"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/vad"
)

const (
	// CloseAuthFailed is the close code sent when a connection fails authentication
	CloseAuthFailed = 4001

	backendWriteTimeout = 5 * time.Second
	maxFrameBytes       = 64 << 20

	// echoSilenceFloor is the RMS below which the echo transcriber reports no speech
	echoSilenceFloor = 0.001
)

// Rejection reasons recorded by the backend
const (
	rejectNotBinary   = "not_binary"
	rejectMalformed   = "malformed_frame"
	rejectInvalidWAV  = "invalid_wav"
	rejectAuthMissing = "auth_missing"
	rejectAuthFailed  = "auth_failed"
	rejectTranscribe  = "transcribe_failed"
)

// TokenValidator checks a credential and returns the user it belongs to
type TokenValidator func(token string) (userID string, ok bool)

// Transcriber turns one WAV payload into text
type Transcriber func(meta protocol.Metadata, wav []byte) (protocol.InboundMessage, error)

// BackendOption configures a FrameBackend
type BackendOption func(*FrameBackend)

// WithTokenValidator replaces the default validator, which accepts any non-empty token
func WithTokenValidator(v TokenValidator) BackendOption {
	return func(b *FrameBackend) {
		if v != nil {
			b.validate = v
		}
	}
}

// WithTranscriber replaces the default echo transcriber
func WithTranscriber(t Transcriber) BackendOption {
	return func(b *FrameBackend) {
		if t != nil {
			b.transcribe = t
		}
	}
}

// FrameBackend is a development WebSocket endpoint that receives frames the
// way the translation service does and answers each with a text result.
type FrameBackend struct {
	config     config.BackendConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	validate   TokenValidator
	transcribe Transcriber

	server   *http.Server
	listener net.Listener

	conns    map[*websocket.Conn]struct{}
	stopping bool
	wg       sync.WaitGroup
	mu       sync.Mutex

	// Statistics
	connectionsTotal atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
	authFailures     atomic.Uint64
	repliesSent      atomic.Uint64
}

// BackendStats represents frame backend statistics
type BackendStats struct {
	ActiveConnections int    `json:"active_connections"`
	ConnectionsTotal  uint64 `json:"connections_total"`
	FramesReceived    uint64 `json:"frames_received"`
	FramesRejected    uint64 `json:"frames_rejected"`
	AuthFailures      uint64 `json:"auth_failures"`
	RepliesSent       uint64 `json:"replies_sent"`
}

// NewFrameBackend creates a backend serving cfg.Path
func NewFrameBackend(cfg config.BackendConfig, logger *slog.Logger, m *metrics.Metrics, opts ...BackendOption) *FrameBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}

	b := &FrameBackend{
		config:  cfg,
		logger:  logger.With(slog.String("component", "backend")),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		validate:   acceptAnyToken,
		transcribe: EchoTranscriber,
		conns:      make(map[*websocket.Conn]struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, b)
	b.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b
}

func acceptAnyToken(token string) (string, bool) {
	return token, token != ""
}

// EchoTranscriber reports the language pair and duration of the payload,
// or empty texts when the audio is silent.
func EchoTranscriber(meta protocol.Metadata, wav []byte) (protocol.InboundMessage, error) {
	samples, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return protocol.InboundMessage{}, err
	}

	if vad.RMS(samples) < echoSilenceFloor {
		return protocol.InboundMessage{}, nil
	}

	return protocol.InboundMessage{
		OriginalText:   fmt.Sprintf("[%s speech, %.1fs]", meta.SourceLang, info.Duration),
		TranslatedText: fmt.Sprintf("[%s translation, %.1fs]", meta.TargetLang, info.Duration),
	}, nil
}

// Start binds the listener and serves in the background
func (b *FrameBackend) Start() error {
	listener, err := net.Listen("tcp", b.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.server.Addr, err)
	}
	b.listener = listener

	b.logger.Info("Frame backend started",
		slog.String("address", listener.Addr().String()),
		slog.String("path", b.config.Path),
		slog.Bool("require_auth", b.config.RequireAuth),
	)

	go func() {
		if err := b.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Frame backend error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (b *FrameBackend) Addr() string {
	if b.listener == nil {
		return b.server.Addr
	}
	return b.listener.Addr().String()
}

// Stop shuts the listener down, closes open connections and waits for their handlers
func (b *FrameBackend) Stop(ctx context.Context) error {
	b.logger.Info("Stopping frame backend...")

	err := b.server.Shutdown(ctx)

	// Shutdown does not track hijacked connections.
	b.mu.Lock()
	b.stopping = true
	for conn := range b.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return err
}

// ServeHTTP upgrades the request and handles frames until the client leaves
func (b *FrameBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Added before the hijack so Shutdown still covers this request.
	b.wg.Add(1)
	defer b.wg.Done()

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	if !b.track(conn, true) {
		b.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer b.track(conn, false)

	b.handleConnection(conn, r.RemoteAddr)
}

// track registers or unregisters conn. Registration fails once Stop has begun.
func (b *FrameBackend) track(conn *websocket.Conn, add bool) bool {
	b.mu.Lock()
	if add {
		if b.stopping {
			b.mu.Unlock()
			return false
		}
		b.conns[conn] = struct{}{}
		b.connectionsTotal.Add(1)
	} else {
		delete(b.conns, conn)
	}
	count := len(b.conns)
	b.mu.Unlock()

	b.metrics.SetBackendConnections(count)
	return true
}

func (b *FrameBackend) handleConnection(conn *websocket.Conn, remoteAddr string) {
	logger := b.logger.With(slog.String("remote_addr", remoteAddr))
	logger.Info("Client connected")

	var conversationID string
	first := true

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Client connection lost", slog.String("error", err.Error()))
			} else {
				logger.Info("Client disconnected")
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			b.reject(logger, rejectNotBinary, fmt.Errorf("expected binary frame, got message type %d", messageType))
			continue
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			b.reject(logger, rejectMalformed, err)
			b.closeWith(conn, websocket.CloseUnsupportedData, "malformed frame")
			return
		}

		if first {
			first = false
			id, ok := b.authenticate(logger, frame.Metadata)
			if !ok {
				b.closeWith(conn, CloseAuthFailed, "Authentication failed")
				return
			}
			conversationID = id
		}

		if err := audio.ValidateWAV(frame.Payload); err != nil {
			b.reject(logger, rejectInvalidWAV, err)
			b.closeWith(conn, websocket.CloseUnsupportedData, "invalid audio payload")
			return
		}

		b.framesReceived.Add(1)
		b.metrics.RecordBackendFrame()

		logger.Info("Received audio chunk",
			slog.String("conversation_id", conversationID),
			slog.Int("bytes", len(frame.Payload)),
			slog.String("source_lang", frame.Metadata.SourceLang),
			slog.String("target_lang", frame.Metadata.TargetLang),
		)

		reply, err := b.transcribe(frame.Metadata, frame.Payload)
		if err != nil {
			b.reject(logger, rejectTranscribe, err)
			continue
		}
		reply.ConversationID = conversationID

		conn.SetWriteDeadline(time.Now().Add(backendWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			logger.Warn("Failed to send reply", slog.String("error", err.Error()))
			return
		}
		b.repliesSent.Add(1)
	}
}

// authenticate checks the credential on a connection's first frame. A conversation
// ID is assigned to authenticated connections only.
func (b *FrameBackend) authenticate(logger *slog.Logger, meta protocol.Metadata) (string, bool) {
	token := meta.Token()
	if token == "" {
		if b.config.RequireAuth {
			b.authFailures.Add(1)
			b.reject(logger, rejectAuthMissing, errors.New("no token provided"))
			return "", false
		}
		logger.Warn("No JWT token provided in initial message")
		return "", true
	}

	userID, ok := b.validate(token)
	if !ok {
		b.authFailures.Add(1)
		b.reject(logger, rejectAuthFailed, errors.New("token verification failed"))
		return "", false
	}

	conversationID := uuid.NewString()
	logger.Info("Connection authenticated",
		slog.String("user_id", userID),
		slog.String("conversation_id", conversationID),
	)
	return conversationID, true
}

func (b *FrameBackend) reject(logger *slog.Logger, reason string, err error) {
	b.framesRejected.Add(1)
	b.metrics.RecordBackendRejection(reason)
	logger.Warn("Frame rejected",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

func (b *FrameBackend) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		b.logger.Debug("Failed to send close frame", slog.String("error", err.Error()))
	}
}

// GetStats returns current backend statistics
func (b *FrameBackend) GetStats() BackendStats {
	b.mu.Lock()
	active := len(b.conns)
	b.mu.Unlock()

	return BackendStats{
		ActiveConnections: active,
		ConnectionsTotal:  b.connectionsTotal.Load(),
		FramesReceived:    b.framesReceived.Load(),
		FramesRejected:    b.framesRejected.Load(),
		AuthFailures:      b.authFailures.Load(),
		RepliesSent:       b.repliesSent.Load(),
	}
}
