package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/audio"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/capture"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/metrics"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/protocol"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/tracing"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/transport"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/vad"
)

var (
	// ErrTransportNotOpen is returned by Start when the connection is not open
	ErrTransportNotOpen = errors.New("transport is not open")

	// ErrAlreadyRunning is returned when an operation requires an idle session
	ErrAlreadyRunning = errors.New("session is already running")

	// ErrNotCapturing is returned by Stop outside the capturing state
	ErrNotCapturing = errors.New("session is not capturing")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("session is closed")
)

const (
	// captureChannels is the channel count of every frame; capture is mono.
	captureChannels = 1

	statusBufferSize     = 16
	transcriptBufferSize = 32
	errorBufferSize      = 4
)

// Transport is the frame connection a session sends through
type Transport interface {
	Connect(ctx context.Context) error
	Send(frame []byte) error
	OnMessage(handler transport.MessageHandler)
	Errors() <-chan error
	State() transport.State
	Close() error
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTickerFactory replaces the wall-clock ticker driving chunk cadence
func WithTickerFactory(factory TickerFactory) Option {
	return func(c *Controller) {
		if factory != nil {
			c.newTicker = factory
		}
	}
}

// WithTracer sets the tracer used for per-chunk spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// run holds the pipeline built for one Start..Stop cycle
type run struct {
	buffer     *audio.RingBuffer
	scheduler  *audio.Scheduler
	gate       *vad.Gate
	sampleRate int
	metadata   []byte // frame metadata JSON, fixed for the run
	cancel     context.CancelFunc
	startedAt  time.Time
}

// Stats represents per-session pipeline counters
type Stats struct {
	ChunksEmitted       uint64            `json:"chunks_emitted"`
	FramesSent          uint64            `json:"frames_sent"`
	BytesSent           uint64            `json:"bytes_sent"`
	ChunksDiscarded     map[string]uint64 `json:"chunks_discarded"`
	TranscriptsReceived uint64            `json:"transcripts_received"`
	LastTranscript      string            `json:"last_transcript,omitempty"`
}

// SessionInfo is a snapshot of a session for the status API
type SessionInfo struct {
	ID         string                `json:"id"`
	State      State                 `json:"state"`
	Status     Status                `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	StartedAt  time.Time             `json:"started_at,omitzero"`
	SampleRate int                   `json:"sample_rate"`
	Config     Config                `json:"config"`
	Stats      Stats                 `json:"stats"`
	Buffer     *audio.RingStats      `json:"buffer,omitempty"`
	Scheduler  *audio.SchedulerStats `json:"scheduler,omitempty"`
	Gate       *vad.GateStats        `json:"gate,omitempty"`
}

// Controller owns one capture session: source, buffer, scheduler, gate and transport.
//
// Start moves Idle to Capturing. Stop moves Capturing to Flushing, joins the
// tick loop, releases the source, sends whatever audio remains and returns to
// Idle. A transport error while Capturing returns to Idle without a flush.
type Controller struct {
	id        string
	createdAt time.Time
	source    capture.SampleSource
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	newTicker TickerFactory

	// Guarded by mu
	config Config
	state  State
	run    *run
	closed bool
	mu     sync.Mutex

	tickWG  sync.WaitGroup
	watchWG sync.WaitGroup

	// Notification channels, guarded by chanMu
	status      chan Status
	current     Status
	transcripts chan protocol.InboundMessage
	errs        chan error
	chanClosed  bool
	chanMu      sync.RWMutex

	stats   Stats
	statsMu sync.Mutex
}

// NewController creates an idle session bound to src and tr
func NewController(cfg Config, src capture.SampleSource, tr Transport, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("sample source is required")
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}

	c := &Controller{
		id:          uuid.NewString(),
		createdAt:   time.Now(),
		source:      src,
		transport:   tr,
		logger:      slog.Default(),
		tracer:      tracing.Tracer(),
		newTicker:   NewWallTicker,
		config:      cfg,
		state:       StateIdle,
		status:      make(chan Status, statusBufferSize),
		transcripts: make(chan protocol.InboundMessage, transcriptBufferSize),
		errs:        make(chan error, errorBufferSize),
		stats:       Stats{ChunksDiscarded: make(map[string]uint64)},
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewMetrics(nil)
	}
	c.logger = c.logger.With(slog.String("session_id", c.id))
	c.current = Status{State: StateIdle, Message: StatusIdle, Timestamp: c.createdAt}

	tr.OnMessage(c.handleMessage)

	return c, nil
}

// ID returns the session identifier
func (c *Controller) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Configure replaces the session parameters. Only allowed while Idle.
func (c *Controller) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w: cannot reconfigure while %s", ErrAlreadyRunning, c.state)
	}

	c.config = cfg
	c.logger.Info("Session reconfigured", slog.String("config", cfg.String()))
	return nil
}

// Config returns the current session parameters
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Connect opens the transport and publishes the outcome as a status
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	state := c.state
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}

	c.publishStatus(state, false, StatusConnecting)

	if err := c.transport.Connect(ctx); err != nil {
		c.metrics.RecordConnect(false)
		c.publishStatus(state, false, StatusConnectionError)
		c.logger.Error("Failed to connect", slog.String("error", err.Error()))
		return fmt.Errorf("failed to connect session transport: %w", err)
	}

	c.metrics.RecordConnect(true)
	c.publishStatus(state, true, StatusConnected)
	c.logger.Info("Transport connected")
	return nil
}

// Start begins capturing. The transport must be open. Capture runs until
// Stop, Close or a transport error; ctx only contributes its values.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w: state is %s", ErrAlreadyRunning, c.state)
	}
	if state := c.transport.State(); state != transport.Open {
		return fmt.Errorf("%w: state is %s", ErrTransportNotOpen, state)
	}

	// A watcher that aborted the previous run may still be returning.
	c.watchWG.Wait()

	r, err := c.newRun()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	if err := c.source.Start(runCtx, c.sinkFor(r)); err != nil {
		cancel()
		return fmt.Errorf("failed to start sample source: %w", err)
	}

	c.run = r
	c.state = StateCapturing
	c.metrics.RecordSessionStarted()

	ticker := c.newTicker(c.config.ChunkDuration)
	c.tickWG.Add(1)
	go c.tickLoop(runCtx, r, ticker)

	c.watchWG.Add(1)
	go c.watchTransport(runCtx, r)

	c.logger.Info("Capture started",
		slog.Int("sample_rate", r.sampleRate),
		slog.String("config", c.config.String()),
	)
	c.publishStatus(StateCapturing, true, StatusCapturing)

	return nil
}

func (c *Controller) newRun() (*run, error) {
	sampleRate := c.source.SampleRate()
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample source reports invalid sample rate %d", sampleRate)
	}

	buffer, err := audio.NewRingBufferForDuration(c.config.MaxBufferDuration, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture buffer: %w", err)
	}

	scheduler, err := audio.NewScheduler(audio.SchedulerConfig{
		SampleRate:     sampleRate,
		ChunkDuration:  c.config.ChunkDuration,
		Overlap:        c.config.Overlap,
		MinimumSamples: audio.SamplesFor(c.config.MinChunkDuration, sampleRate),
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk scheduler: %w", err)
	}

	gate, err := vad.NewGate(c.config.SilenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice activity gate: %w", err)
	}

	meta := protocol.NewMetadata(c.config.SourceLang, c.config.TargetLang, c.config.JWTToken,
		sampleRate, captureChannels)
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame metadata: %w", err)
	}

	return &run{
		buffer:     buffer,
		scheduler:  scheduler,
		gate:       gate,
		sampleRate: sampleRate,
		metadata:   metadata,
		startedAt:  time.Now(),
	}, nil
}

// sinkFor returns the producer callback writing into r's buffer
func (c *Controller) sinkFor(r *run) capture.Sink {
	return func(samples []float32) {
		dropped := r.buffer.Write(samples)
		c.metrics.RecordCapture(len(samples), dropped)
		if dropped > 0 {
			c.logger.Debug("Capture buffer overrun",
				slog.Int("dropped_samples", dropped),
				slog.String("error", audio.ErrBufferOverrun.Error()),
			)
		}
	}
}

// Stop ends capture and sends the remaining audio as a final chunk
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateCapturing {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotCapturing, state)
	}
	r := c.run
	c.state = StateFlushing
	c.mu.Unlock()

	c.publishStatus(StateFlushing, c.transportOpen(), StatusFlushing)

	// Timer first, then device: samples arriving in between still reach the flush.
	r.cancel()
	c.tickWG.Wait()
	c.watchWG.Wait()

	var stopErr error
	if err := c.source.Stop(); err != nil {
		stopErr = fmt.Errorf("failed to stop sample source: %w", err)
		c.logger.Warn("Sample source did not stop cleanly", slog.String("error", err.Error()))
	}

	c.flush(r)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	duration := time.Since(r.startedAt)
	c.metrics.RecordSessionEnded(duration.Seconds())

	stats := c.GetStats()
	c.logger.Info("Capture stopped",
		slog.Duration("duration", duration),
		slog.Uint64("chunks_emitted", stats.ChunksEmitted),
		slog.Uint64("frames_sent", stats.FramesSent),
		slog.Uint64("dropped_samples", r.buffer.Dropped()),
	)
	c.publishStatus(StateIdle, c.transportOpen(), StatusIdle)

	return stopErr
}

// Close stops capture if running, closes the transport and the notification channels
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotCapturing) {
		c.logger.Warn("Error stopping session during close", slog.String("error", err.Error()))
	}
	c.tickWG.Wait()
	c.watchWG.Wait()

	err := c.transport.Close()
	if err != nil {
		err = fmt.Errorf("failed to close transport: %w", err)
	}

	c.publishStatus(StateIdle, false, StatusDisconnected)

	c.chanMu.Lock()
	c.chanClosed = true
	close(c.status)
	close(c.transcripts)
	close(c.errs)
	c.chanMu.Unlock()

	c.logger.Info("Session closed")
	return err
}

func (c *Controller) tickLoop(ctx context.Context, r *run, ticker Ticker) {
	defer c.tickWG.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.tick(ctx, r)
		}
	}
}

func (c *Controller) tick(ctx context.Context, r *run) {
	c.metrics.RecordTick()

	chunk, err := r.scheduler.Tick()
	if err != nil {
		if errors.Is(err, audio.ErrInsufficientAudio) {
			c.metrics.RecordChunkDiscarded(metrics.ReasonInsufficientAudio)
			c.logger.Debug("Tick skipped", slog.String("reason", metrics.ReasonInsufficientAudio))
			return
		}
		c.logger.Warn("Failed to read chunk", slog.String("error", err.Error()))
		return
	}

	c.process(ctx, r, chunk)
}

func (c *Controller) flush(r *run) {
	chunk, err := r.scheduler.Flush()
	if err != nil {
		if errors.Is(err, audio.ErrInsufficientAudio) {
			c.metrics.RecordChunkDiscarded(metrics.ReasonInsufficientAudio)
			c.logger.Debug("Nothing to flush", slog.String("reason", metrics.ReasonInsufficientAudio))
			return
		}
		c.logger.Warn("Failed to read final chunk", slog.String("error", err.Error()))
		return
	}

	c.process(context.Background(), r, chunk)
}

// process runs one chunk through gate, encoder, framing and transport
func (c *Controller) process(ctx context.Context, r *run, chunk *audio.Chunk) {
	_, span := c.tracer.Start(ctx, "session.chunk", trace.WithAttributes(
		attribute.String(tracing.AttrSessionID, c.id),
		attribute.Int64(tracing.AttrChunkSequence, int64(chunk.Sequence)),
		attribute.Int64(tracing.AttrChunkSamples, int64(len(chunk.Samples))),
		attribute.Bool(tracing.AttrChunkFinal, chunk.Final),
	))
	defer span.End()

	c.statsMu.Lock()
	c.stats.ChunksEmitted++
	c.statsMu.Unlock()

	decision := r.gate.Evaluate(chunk.Samples)
	c.metrics.RecordChunkEmitted(chunk.Duration().Seconds(), decision.RMS)
	span.SetAttributes(attribute.Float64(tracing.AttrChunkRMS, decision.RMS))

	if !decision.Keep {
		c.discard(span, chunk, metrics.ReasonSilence, decision.Err())
		return
	}

	wav, err := audio.EncodeWAV(chunk.Samples, r.sampleRate, captureChannels)
	if err != nil {
		c.discard(span, chunk, metrics.ReasonEncodingFailure, err)
		return
	}

	frame, err := protocol.EncodeRawFrame(r.metadata, wav)
	if err != nil {
		c.discard(span, chunk, metrics.ReasonEncodingFailure, fmt.Errorf("%w: %w", audio.ErrEncodingFailure, err))
		return
	}

	if err := c.transport.Send(frame); err != nil {
		reason := metrics.ReasonSendFailure
		if errors.Is(err, transport.ErrNotOpen) {
			reason = metrics.ReasonTransportNotOpen
		}
		c.discard(span, chunk, reason, err)
		return
	}

	c.statsMu.Lock()
	c.stats.FramesSent++
	c.stats.BytesSent += uint64(len(frame))
	c.statsMu.Unlock()

	c.metrics.RecordFrameSent(len(frame), time.Since(chunk.CreatedAt).Seconds())
	span.SetAttributes(attribute.Int64(tracing.AttrFrameBytes, int64(len(frame))))

	c.logger.Info("Frame sent",
		slog.Uint64("sequence", chunk.Sequence),
		slog.Int64("start", chunk.Start),
		slog.Int("samples", len(chunk.Samples)),
		slog.Int("frame_bytes", len(frame)),
		slog.Float64("rms", decision.RMS),
		slog.Bool("final", chunk.Final),
	)
}

func (c *Controller) discard(span trace.Span, chunk *audio.Chunk, reason string, err error) {
	c.statsMu.Lock()
	c.stats.ChunksDiscarded[reason]++
	c.statsMu.Unlock()

	c.metrics.RecordChunkDiscarded(reason)
	span.SetAttributes(attribute.String(tracing.AttrDiscardReason, reason))

	attrs := []any{
		slog.Uint64("sequence", chunk.Sequence),
		slog.Int("samples", len(chunk.Samples)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	}
	if reason == metrics.ReasonSilence {
		c.logger.Info("Chunk discarded", attrs...)
		return
	}
	c.logger.Warn("Chunk discarded", attrs...)
}

// watchTransport ends capture without a flush if the connection fails
func (c *Controller) watchTransport(ctx context.Context, r *run) {
	defer c.watchWG.Done()

	select {
	case <-ctx.Done():
	case err, ok := <-c.transport.Errors():
		if ok {
			c.abort(r, err)
		}
	}
}

func (c *Controller) abort(r *run, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != r || c.state != StateCapturing {
		// Stop is already flushing; the send path will see the closed transport.
		c.pushError(cause)
		return
	}

	c.state = StateIdle
	r.cancel()
	c.tickWG.Wait()

	if err := c.source.Stop(); err != nil {
		c.logger.Warn("Sample source did not stop cleanly", slog.String("error", err.Error()))
	}

	c.metrics.RecordTransportError()
	c.metrics.RecordSessionEnded(time.Since(r.startedAt).Seconds())
	c.logger.Error("Connection lost, capture aborted", slog.String("error", cause.Error()))

	c.publishStatus(StateIdle, false, StatusConnectionError)
	c.pushError(fmt.Errorf("capture aborted: %w", cause))
}

func (c *Controller) handleMessage(messageType int, data []byte) {
	if messageType != transport.TextMessage {
		c.logger.Debug("Ignoring binary message", slog.Int("bytes", len(data)))
		return
	}

	msg, ok := protocol.ParseInbound(data)
	if !ok {
		c.logger.Debug("Ignoring unrecognized message", slog.Int("bytes", len(data)))
		return
	}

	c.metrics.RecordMessageReceived()

	c.statsMu.Lock()
	c.stats.TranscriptsReceived++
	c.stats.LastTranscript = msg.DisplayText()
	c.statsMu.Unlock()

	c.logger.Info("Transcript received",
		slog.String("text", msg.DisplayText()),
		slog.String("conversation_id", msg.ConversationID),
	)

	c.chanMu.RLock()
	defer c.chanMu.RUnlock()
	if c.chanClosed {
		return
	}
	select {
	case c.transcripts <- *msg:
	default:
		c.logger.Warn("Transcript channel full, dropping result")
	}
}

// publishStatus records s as current and delivers it, replacing the oldest
// pending notification when the channel is full.
func (c *Controller) publishStatus(state State, connected bool, message string) {
	s := Status{State: state, Connected: connected, Message: message, Timestamp: time.Now()}

	c.chanMu.Lock()
	defer c.chanMu.Unlock()

	c.current = s
	if c.chanClosed {
		return
	}

	select {
	case c.status <- s:
		return
	default:
	}
	select {
	case <-c.status:
	default:
	}
	select {
	case c.status <- s:
	default:
	}
}

// pushError delivers err without blocking
func (c *Controller) pushError(err error) {
	c.chanMu.RLock()
	defer c.chanMu.RUnlock()
	if c.chanClosed {
		return
	}
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("Error channel full, dropping error", slog.String("error", err.Error()))
	}
}

func (c *Controller) transportOpen() bool {
	return c.transport.State() == transport.Open
}

// Status returns the status notification channel, closed by Close
func (c *Controller) Status() <-chan Status {
	return c.status
}

// CurrentStatus returns the most recent status
func (c *Controller) CurrentStatus() Status {
	c.chanMu.RLock()
	defer c.chanMu.RUnlock()
	return c.current
}

// Transcripts returns received text results, closed by Close
func (c *Controller) Transcripts() <-chan protocol.InboundMessage {
	return c.transcripts
}

// Errors returns connection errors that aborted capture, closed by Close
func (c *Controller) Errors() <-chan error {
	return c.errs
}

// GetStats returns a copy of the session counters
func (c *Controller) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	stats := c.stats
	stats.ChunksDiscarded = make(map[string]uint64, len(c.stats.ChunksDiscarded))
	for reason, n := range c.stats.ChunksDiscarded {
		stats.ChunksDiscarded[reason] = n
	}
	return stats
}

// Info returns a snapshot of the session for monitoring
func (c *Controller) Info() SessionInfo {
	c.mu.Lock()
	info := SessionInfo{
		ID:        c.id,
		State:     c.state,
		CreatedAt: c.createdAt,
		Config:    c.config,
	}
	r := c.run
	c.mu.Unlock()

	info.Status = c.CurrentStatus()
	info.Stats = c.GetStats()

	if r != nil {
		info.StartedAt = r.startedAt
		info.SampleRate = r.sampleRate
		bufferStats := r.buffer.GetStats()
		schedulerStats := r.scheduler.GetStats()
		gateStats := r.gate.GetStats()
		info.Buffer = &bufferStats
		info.Scheduler = &schedulerStats
		info.Gate = &gateStats
	}

	return info
}
