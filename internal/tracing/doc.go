// Package tracing configures the OpenTelemetry tracer provider used to trace
// each chunk through the gate, encoder and transport.
package tracing
