// Package session runs capture sessions. A Controller wires a sample source
// through the ring buffer, chunk scheduler and voice activity gate into WAV
// frames sent over a transport, and reports status and text results back.
// A Manager keeps the sessions owned by one process.
package session
