// Package metrics defines the Prometheus instruments for capture, chunking,
// transport, sessions and the HTTP surfaces.
package metrics
