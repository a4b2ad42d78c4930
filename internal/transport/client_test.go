package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer records binary frames and lets tests act on the server side of the socket
type testServer struct {
	*httptest.Server

	frames chan []byte
	conns  chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		frames: make(chan []byte, 64),
		conns:  make(chan *websocket.Conn, 4),
	}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				ts.frames <- data
			}
		}
	}))
	t.Cleanup(ts.Close)

	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted a connection")
		return nil
	}
}

func (ts *testServer) nextFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case frame := <-ts.frames:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("server never received a frame")
		return nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{URL: url}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{"ws url", "ws://localhost:8000/ws", false},
		{"wss url", "wss://example.com/ws", false},
		{"empty url", "", true},
		{"http scheme", "http://localhost:8000/ws", true},
		{"malformed", "ws://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Config{URL: tt.url}, nil)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Disconnected, c.State())
			assert.Equal(t, defaultHandshakeTimeout, c.config.HandshakeTimeout)
			assert.Equal(t, defaultWriteTimeout, c.config.WriteTimeout)
			assert.Equal(t, defaultSendQueueSize, c.config.SendQueueSize)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}

func TestSendBeforeConnect(t *testing.T) {
	c := newTestClient(t, "ws://localhost:1/ws")

	err := c.Send([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrNotOpen)
	assert.Equal(t, uint64(1), c.GetStats().SendRejected)
}

func TestConnectSendReceive(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	received := make(chan string, 1)
	c.OnMessage(func(messageType int, data []byte) {
		if messageType == TextMessage {
			received <- string(data)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Open, c.State())

	frame := []byte{0x02, 0x00, 0x00, 0x00, '{', '}', 0xAA}
	require.NoError(t, c.Send(frame))
	assert.Equal(t, frame, ts.nextFrame(t))

	server := ts.serverConn(t)
	reply := `{"original_text":"hello","translated_text":"hola"}`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(reply)))

	select {
	case got := <-received:
		assert.Equal(t, reply, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received the reply")
	}

	require.Eventually(t, func() bool {
		stats := c.GetStats()
		return stats.FramesSent == 1 && stats.MessagesReceived == 1
	}, 5*time.Second, 10*time.Millisecond)

	stats := c.GetStats()
	assert.Equal(t, uint64(len(frame)), stats.BytesSent)
	assert.Equal(t, uint64(1), stats.ConnectAttempts)
	assert.Equal(t, "open", stats.State)
	assert.False(t, stats.LastConnected.IsZero())
}

func TestConnectTwice(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, Open, c.State())
}

func TestConnectFailure(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsURL()
	ts.Close()

	c := newTestClient(t, url)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Send([]byte{1}), ErrNotOpen)
	assert.Equal(t, uint64(1), c.GetStats().ConnectionErrors)
}

func TestServerCloseReportsError(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	server := ts.serverConn(t)

	msg := websocket.FormatCloseMessage(4001, "Authentication failed")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	server.Close()

	select {
	case err := <-c.Errors():
		assert.ErrorIs(t, err, ErrConnection)
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, 4001, closeErr.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no connection error reported")
	}

	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Send([]byte{1}), ErrNotOpen)
}

func TestReconnectDrainsStaleErrors(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	ts.serverConn(t).Close()

	require.Eventually(t, func() bool {
		return c.State() == Disconnected
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(context.Background()))
	assert.Empty(t, c.Errors())
	assert.Equal(t, Open, c.State())
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send([]byte{byte(i)}))
	}
	require.NoError(t, c.Close())
	assert.Equal(t, Disconnected, c.State())

	for i := 0; i < 5; i++ {
		assert.Equal(t, []byte{byte(i)}, ts.nextFrame(t))
	}

	// A local close is not a connection error.
	assert.Empty(t, c.Errors())
	assert.ErrorIs(t, c.Send([]byte{9}), ErrNotOpen)
}

func TestSendQueueFull(t *testing.T) {
	c, err := NewClient(Config{URL: "ws://localhost:1/ws", SendQueueSize: 1}, testLogger())
	require.NoError(t, err)

	// Open state with no write pump draining the queue
	c.mu.Lock()
	c.state = Open
	c.sendQueue = make(chan []byte, 1)
	c.mu.Unlock()

	require.NoError(t, c.Send([]byte{0}))
	err = c.Send([]byte{1})
	require.ErrorIs(t, err, ErrSendQueueFull)
	assert.Equal(t, uint64(1), c.GetStats().SendRejected)

	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
}
