package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/capture"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/config"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/metrics"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/session"
	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/transport"
)

type apiFixture struct {
	cfg      *config.Config
	sessions *session.Manager
	backend  *FrameBackend
	wsURL    string
	handler  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	cfg := config.Default()
	cfg.Client.JWTToken = "super-secret"

	backend, wsURL := newTestBackend(t, false)
	sessions := session.NewManager(nil, session.WithMetrics(m))
	t.Cleanup(func() { sessions.StopAll() })

	api := NewHTTPServer(cfg.HTTP, nil, HTTPServerDeps{
		Config:   cfg,
		Sessions: sessions,
		Backend:  backend,
		Metrics:  m,
		Gatherer: reg,
	})

	return &apiFixture{
		cfg:      cfg,
		sessions: sessions,
		backend:  backend,
		wsURL:    wsURL,
		handler:  api.Handler(),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// startToneSession connects a session to the fixture backend and captures a
// bounded tone until the source has delivered all of it.
func (f *apiFixture) startToneSession(t *testing.T, seconds float64) *session.Controller {
	t.Helper()

	tone, err := capture.NewToneSource(capture.ToneConfig{
		SampleRate:    16000,
		Frequency:     440,
		Amplitude:     0.3,
		TotalDuration: time.Duration(seconds * float64(time.Second)),
	})
	require.NoError(t, err)

	client, err := transport.NewClient(transport.Config{URL: f.wsURL}, nil)
	require.NoError(t, err)

	ctrl, err := f.sessions.Create(session.DefaultConfig(), tone, client)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Connect(ctx))
	require.NoError(t, ctrl.Start(ctx))

	select {
	case <-tone.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("tone source did not finish")
	}
	return ctrl
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])

	components, ok := body["components"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, components, "sessions")
	assert.Contains(t, components, "backend")

	rec = f.do(t, http.MethodPost, "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigEndpointRedactsToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "super-secret")
	assert.Contains(t, rec.Body.String(), "[redacted]")
	assert.Equal(t, "super-secret", f.cfg.Client.JWTToken)
}

func TestConfigEndpointUnavailable(t *testing.T) {
	api := NewHTTPServer(config.Default().HTTP, nil, HTTPServerDeps{Gatherer: prometheus.NewRegistry()})

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Without a session manager the list is empty rather than missing.
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_sessions":0`)
}

func TestSessionEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctrl := f.startToneSession(t, 1)

	rec := f.do(t, http.MethodGet, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total_sessions"])

	rec = f.do(t, http.MethodGet, "/sessions/"+ctrl.ID())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, ctrl.ID(), body["id"])
	assert.Equal(t, "capturing", body["state"])

	rec = f.do(t, http.MethodGet, "/sessions/"+ctrl.ID()+"/stop")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions/"+ctrl.ID()+"/stop")
	require.Equal(t, http.StatusOK, rec.Code)

	var info session.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, session.StateIdle, ctrl.State())
	assert.Equal(t, uint64(1), info.Stats.FramesSent)

	// The flushed frame reaches the backend asynchronously.
	assert.Eventually(t, func() bool {
		return f.backend.GetStats().FramesReceived == 1
	}, 5*time.Second, 10*time.Millisecond)

	rec = f.do(t, http.MethodPost, "/sessions/"+ctrl.ID()+"/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/sessions/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/sessions/"+ctrl.ID()+"/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctrl := f.startToneSession(t, 1)
	require.NoError(t, ctrl.Stop())

	rec := f.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	sessions, ok := body["sessions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), sessions["count"])
	assert.Equal(t, float64(0), sessions["capturing"])

	totals, ok := sessions["totals"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), totals["frames_sent"])

	assert.Contains(t, body, "backend")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	// Record at least one request before scraping.
	f.do(t, http.MethodGet, "/health")

	rec := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "translatar_http_requests_total")
}

func TestRootEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "GET /sessions"))

	rec = f.do(t, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
