package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false, Exporter: "bogus"}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown exporter", Config{Enabled: true, Exporter: "zipkin", SampleRate: 1}},
		{"otlp without endpoint", Config{Enabled: true, Exporter: ExporterOTLP, SampleRate: 1}},
		{"sample rate above one", Config{Enabled: true, Exporter: ExporterNone, SampleRate: 1.5}},
		{"negative sample rate", Config{Enabled: true, Exporter: ExporterNone, SampleRate: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestInitNoneExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		Enabled:     true,
		ServiceName: "translatar-test",
		Exporter:    ExporterNone,
		SampleRate:  1,
	}, nil)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "test.span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
