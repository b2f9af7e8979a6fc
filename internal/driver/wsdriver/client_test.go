package wsdriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
)

type workerStub struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newWorkerStub(t *testing.T) *workerStub {
	t.Helper()
	w := &workerStub{conns: make(chan *websocket.Conn, 4)}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := w.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		w.conns <- conn
	}))
	t.Cleanup(w.server.Close)
	return w
}

func (w *workerStub) url() string {
	return "ws" + strings.TrimPrefix(w.server.URL, "http")
}

func (w *workerStub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-w.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func testOptions() Options {
	return Options{
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
		PingInterval: time.Minute,
		PongWait:     time.Minute,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}
}

type eventSink struct {
	mu     sync.Mutex
	events []model.DriverEvent
}

func (s *eventSink) handle(ev model.DriverEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) snapshot() []model.DriverEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DriverEvent(nil), s.events...)
}

func startClient(t *testing.T, w *workerStub) (*Client, *websocket.Conn) {
	t.Helper()
	c := New(w.url(), testOptions())
	c.Start()
	t.Cleanup(func() { c.Close() })

	conn := w.accept(t)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	return c, conn
}

func TestClient_Commands(t *testing.T) {
	t.Run("writes initialize as a command frame", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)

		require.NoError(t, c.Initialize(context.Background(), "sess-1"))

		var cmd model.Command
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&cmd))
		assert.Equal(t, "sess-1", cmd.SessionID)
		assert.Equal(t, model.DriverActionInitialize, cmd.Action)
		assert.Empty(t, cmd.Payload)
	})

	t.Run("encodes the message window for getMessages", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)

		from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
		require.NoError(t, c.GetMessages(context.Background(), "sess-1", "123@c.us", from, to))

		var cmd model.Command
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&cmd))
		assert.Equal(t, model.DriverActionGetMessages, cmd.Action)
		assert.Contains(t, string(cmd.Payload), `"contactId":"123@c.us"`)
		assert.Contains(t, string(cmd.Payload), `"dateFrom":"2024-01-01T00:00:00Z"`)
	})

	t.Run("returns transport error when not connected", func(t *testing.T) {
		c := New("ws://127.0.0.1:1/unreachable", testOptions())

		err := c.GetContacts(context.Background(), "sess-1")

		assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
	})

	t.Run("release of an unknown session is a no-op", func(t *testing.T) {
		w := newWorkerStub(t)
		c, _ := startClient(t, w)

		assert.NoError(t, c.Release(context.Background(), "never-initialized"))
	})
}

func TestClient_Events(t *testing.T) {
	t.Run("dispatches worker events to subscribers", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)
		sink := &eventSink{}
		c.Subscribe(sink.handle)

		require.NoError(t, conn.WriteJSON(model.NewDriverEvent(model.DriverEventQR, "sess-1", model.QRData{QR: "qr-payload"})))

		require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
		ev := sink.snapshot()[0]
		assert.Equal(t, model.DriverEventQR, ev.Type)
		var data model.QRData
		require.NoError(t, ev.Decode(&data))
		assert.Equal(t, "qr-payload", data.QR)
	})

	t.Run("skips malformed frames without dropping the connection", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)
		sink := &eventSink{}
		c.Subscribe(sink.handle)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		require.NoError(t, conn.WriteJSON(model.NewDriverEvent(model.DriverEventReady, "sess-1", nil)))

		require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.True(t, c.Connected())
	})

	t.Run("unsubscribed handlers stop receiving", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)
		sink := &eventSink{}
		other := &eventSink{}
		unsubscribe := c.Subscribe(sink.handle)
		c.Subscribe(other.handle)
		unsubscribe()

		require.NoError(t, conn.WriteJSON(model.NewDriverEvent(model.DriverEventReady, "sess-1", nil)))

		require.Eventually(t, func() bool { return len(other.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Empty(t, sink.snapshot())
	})
}

func TestClient_TransportLoss(t *testing.T) {
	t.Run("reports initialized sessions as disconnected and reconnects", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)
		sink := &eventSink{}
		c.Subscribe(sink.handle)

		require.NoError(t, c.Initialize(context.Background(), "sess-1"))
		var cmd model.Command
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&cmd))

		conn.Close()

		require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
		ev := sink.snapshot()[0]
		assert.Equal(t, model.DriverEventDisconnected, ev.Type)
		assert.Equal(t, "sess-1", ev.SessionID)
		var data model.DisconnectedData
		require.NoError(t, ev.Decode(&data))
		assert.Equal(t, model.DisconnectReasonTransportLost, data.Reason)

		w.accept(t)
		require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("sessions disconnected by the worker are not reported twice", func(t *testing.T) {
		w := newWorkerStub(t)
		c, conn := startClient(t, w)
		sink := &eventSink{}
		c.Subscribe(sink.handle)

		require.NoError(t, c.Initialize(context.Background(), "sess-1"))
		require.NoError(t, conn.WriteJSON(model.NewDriverEvent(model.DriverEventDisconnected, "sess-1",
			model.DisconnectedData{Reason: "LOGOUT"})))
		require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

		conn.Close()
		w.accept(t)
		require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

		assert.Len(t, sink.snapshot(), 1)
	})
}
