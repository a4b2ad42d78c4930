package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

func (c *Client) readPump(conn *websocket.Conn) {
	defer c.pumps.Done()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.fail(conn, fmt.Errorf("%w: read: %w", ErrConnection, err))
			return
		}

		c.messagesReceived.Add(1)

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()

		if handler != nil {
			handler(messageType, data)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, queue <-chan []byte, done <-chan struct{}, writerDone chan<- struct{}) {
	defer c.pumps.Done()
	defer close(writerDone)

	for {
		select {
		case frame := <-queue:
			if !c.write(conn, frame) {
				return
			}
		case <-done:
			// Flush what was accepted before the stop signal.
			for {
				select {
				case frame := <-queue:
					if !c.write(conn, frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, frame []byte) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		c.fail(conn, fmt.Errorf("%w: set write deadline: %w", ErrConnection, err))
		return false
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.fail(conn, fmt.Errorf("%w: write: %w", ErrConnection, err))
		return false
	}

	c.framesSent.Add(1)
	c.bytesSent.Add(uint64(len(frame)))
	return true
}

// fail tears down conn if it is still the live connection and reports err.
// Failures after a local Close, or from a superseded connection, are ignored.
func (c *Client) fail(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.state != Open {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	conn.Close()

	c.connectionErrors.Add(1)
	c.logger.Error("Connection lost",
		slog.String("url", c.config.URL),
		slog.String("error", err.Error()),
	)

	select {
	case c.errs <- err:
	default:
		c.logger.Warn("Error channel full, dropping connection error",
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) drainErrors() {
	for {
		select {
		case <-c.errs:
		default:
			return
		}
	}
}
