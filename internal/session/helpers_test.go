package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/capture"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/transport"
)

const testSampleRate = 48000

// fakeSource hands its sink to the test, which pushes samples synchronously
type fakeSource struct {
	rate     int
	startErr error

	sink    capture.Sink
	started int
	stopped int
	mu      sync.Mutex
}

func (s *fakeSource) Start(_ context.Context, sink capture.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.sink = sink
	s.started++
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	s.stopped++
	return nil
}

func (s *fakeSource) SampleRate() int { return s.rate }

func (s *fakeSource) push(samples []float32) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(samples)
	}
}

func (s *fakeSource) counts() (started, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

// fakeTransport records sent frames
type fakeTransport struct {
	connectErr error

	state   transport.State
	frames  [][]byte
	handler transport.MessageHandler
	errs    chan error
	closed  int
	mu      sync.Mutex
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{errs: make(chan error, 4)}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = transport.Open
	return nil
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.Open {
		return transport.ErrNotOpen
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) OnMessage(handler transport.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTransport) Errors() <-chan error { return f.errs }

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.Disconnected
	f.closed++
	return nil
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeTransport) setState(state transport.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

// fail drops the connection the way the read pump would
func (f *fakeTransport) fail(err error) {
	f.setState(transport.Disconnected)
	f.errs <- err
}

func (f *fakeTransport) deliver(messageType int, data []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(messageType, data)
	}
}

// manualTicker fires only when the test says so
type manualTicker struct {
	ch       chan time.Time
	stopOnce sync.Once
	stopped  chan struct{}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

func (m *manualTicker) fire(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("tick loop did not accept tick")
	}
}

// settle fires a tick and returns once it has been processed. The tick loop
// only accepts the second send after finishing the first; with no new audio
// the second tick is a no-op.
func (m *manualTicker) settle(t *testing.T) {
	t.Helper()
	m.fire(t)
	m.fire(t)
}

type harness struct {
	ctrl    *Controller
	src     *fakeSource
	tr      *fakeTransport
	tickers chan *manualTicker
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Overlap = 500 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		src:     &fakeSource{rate: testSampleRate},
		tr:      newFakeTransport(),
		tickers: make(chan *manualTicker, 4),
	}

	factory := func(time.Duration) Ticker {
		tk := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
		h.tickers <- tk
		return tk
	}

	all := append([]Option{WithLogger(testLogger()), WithTickerFactory(factory)}, opts...)
	ctrl, err := NewController(cfg, h.src, h.tr, all...)
	require.NoError(t, err)
	h.ctrl = ctrl

	t.Cleanup(func() { _ = ctrl.Close() })
	return h
}

// start connects and starts capture, returning the run's ticker
func (h *harness) start(t *testing.T) *manualTicker {
	t.Helper()
	require.NoError(t, h.ctrl.Connect(context.Background()))
	require.NoError(t, h.ctrl.Start(context.Background()))

	select {
	case tk := <-h.tickers:
		return tk
	case <-time.After(time.Second):
		t.Fatal("no ticker created")
		return nil
	}
}

func constant(seconds float64, rate int, level float32) []float32 {
	samples := make([]float32, int(seconds*float64(rate)))
	for i := range samples {
		samples[i] = level
	}
	return samples
}
