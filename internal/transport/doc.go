// Package transport maintains the duplex WebSocket connection to the remote
// processing service. Outbound frames are queued to a single write pump and
// inbound messages are delivered from a read pump.
package transport
