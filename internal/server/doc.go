// Package server implements the HTTP status API and a development WebSocket
// backend that accepts capture frames and answers with text results.
package server
