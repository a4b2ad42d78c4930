package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/config"
)

func TestInitLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, closer := initLogger(config.LoggingConfig{Level: tt.level, Format: "json"})
			assert.Nil(t, closer)
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			assert.False(t, logger.Enabled(context.Background(), tt.want-1))
		})
	}
}

func TestInitLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, closer := initLogger(config.LoggingConfig{Level: "info", Format: "text", Output: path})
	require.NotNil(t, closer)

	logger.Info("hello", slog.String("component", "test"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
	assert.Contains(t, string(data), "component=test")
}

func TestSessionConfigMapping(t *testing.T) {
	a := &app{cfg: config.Default()}
	a.cfg.Client.JWTToken = "token"
	a.cfg.Audio.Overlap = 0.5

	cfg := a.sessionConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "en", cfg.SourceLang)
	assert.Equal(t, "es", cfg.TargetLang)
	assert.Equal(t, "token", cfg.JWTToken)
	assert.Equal(t, 8*time.Second, cfg.ChunkDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Overlap)
	assert.Equal(t, 2*time.Second, cfg.MinChunkDuration)
	assert.Equal(t, 30*time.Second, cfg.MaxBufferDuration)
	assert.Equal(t, 0.01, cfg.SilenceThreshold)
}

func TestNewLiveSource(t *testing.T) {
	a := &app{cfg: config.Default(), logger: slog.Default()}

	_, err := a.newLiveSource(runOptions{source: "line-in"})
	assert.ErrorContains(t, err, "unknown source")

	r, err := a.newLiveSource(runOptions{source: sourceTone, frequency: 440, amplitude: 0.2, duration: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 48000, r.source.SampleRate())
	assert.NotNil(t, r.finished)

	_, err = a.newLiveSource(runOptions{source: sourceTone, amplitude: 2})
	assert.Error(t, err)
}

func TestRootCommandOverrides(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(envPath, nil, 0644))

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	// An invalid URL override is rejected before any command runs.
	root.SetArgs([]string{"backend", "--env-file", envPath, "--url", "http://example.com", "--log-level", "error"})
	err := root.Execute()
	assert.ErrorContains(t, err, "invalid command-line override")
}
