package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todosync/internal/todo"
)

// newWSServer starts a test WebSocket server; the handler runs per
// connection and must block for as long as it wants the connection open.
func newWSServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoServer sends every received frame straight back to the sender.
func echoServer(t *testing.T) *httptest.Server {
	return newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				return
			}
		}
	})
}

// statusRecorder collects state transitions.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func testConfig(hubURL string) *Config {
	cfg := DefaultConfig(hubURL)
	cfg.Retry = RetryPolicy{BaseDelay: 5 * time.Millisecond, MaxAttempts: 5}
	cfg.DialTimeout = time.Second
	return cfg
}

func TestConnectAndClose(t *testing.T) {
	srv := echoServer(t)
	tr := New(testConfig(wsURL(srv)))

	require.NoError(t, tr.Connect(context.Background(), "alice"))
	assert.Equal(t, StateConnected, tr.Status().State)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close()) // idempotent
	assert.Equal(t, StateDisconnected, tr.Status().State)
}

func TestConnectFailsFast(t *testing.T) {
	tr := New(testConfig("ws://127.0.0.1:1")) // nothing listens here

	err := tr.Connect(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, tr.Status().State)

	// A failed Connect may be retried explicitly.
	srv := echoServer(t)
	tr2 := New(testConfig(wsURL(srv)))
	require.NoError(t, tr2.Connect(context.Background(), "alice"))
	defer tr2.Close()
}

func TestEchoSuppression(t *testing.T) {
	srv := echoServer(t)
	tr := New(testConfig(wsURL(srv)))

	var mu sync.Mutex
	var received []todo.ChangeEvent
	tr.OnEvent(func(event todo.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
	})

	require.NoError(t, tr.Connect(context.Background(), "alice"))
	defer tr.Close()

	// Our own event echoed back must not be redelivered.
	tr.Send(todo.NewCreated(todo.New("alice", "own change"), todo.SourceTraditional))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Empty(t, received)
	mu.Unlock()
}

func TestDeliversRemoteEventsAndSkipsMalformedFrames(t *testing.T) {
	frames := make(chan []byte, 4)
	srv := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for data := range frames {
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
		// Hold the connection open.
		_, _, _ = conn.Read(ctx)
	})

	tr := New(testConfig(wsURL(srv)))

	var mu sync.Mutex
	var received []todo.ChangeEvent
	tr.OnEvent(func(event todo.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
	})

	require.NoError(t, tr.Connect(context.Background(), "alice"))
	defer tr.Close()

	remote := todo.NewCreated(todo.New("alice", "from another session"), todo.SourceChat)
	valid, err := todo.EncodeEnvelope("other-session", remote)
	require.NoError(t, err)

	frames <- []byte("garbage that is not json")
	frames <- []byte(`{"type":"wrong_channel","event":{}}`)
	frames <- valid
	close(frames)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond, "valid frame should survive malformed neighbors")

	// The malformed frames did not cost us the connection.
	assert.Equal(t, StateConnected, tr.Status().State)
}

func TestServerNormalClosureDoesNotReconnect(t *testing.T) {
	srv := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Close(websocket.StatusNormalClosure, "server done")
	})

	tr := New(testConfig(wsURL(srv)))
	recorder := &statusRecorder{}
	tr.OnStateChange(recorder.record)

	require.NoError(t, tr.Connect(context.Background(), "alice"))

	require.Eventually(t, func() bool {
		return tr.Status().State == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	for _, status := range recorder.all() {
		assert.NotEqual(t, StateReconnecting, status.State,
			"an intentional close must not trigger reconnection")
	}
}

func TestReconnectionBound(t *testing.T) {
	// Track server-side conns: httptest forgets hijacked connections, so
	// CloseClientConnections cannot sever an established websocket.
	var connMu sync.Mutex
	var serverConns []*websocket.Conn
	srv := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		connMu.Lock()
		serverConns = append(serverConns, conn)
		connMu.Unlock()
		_, _, _ = conn.Read(ctx)
	})
	tr := New(testConfig(wsURL(srv)))
	recorder := &statusRecorder{}
	tr.OnStateChange(recorder.record)

	require.NoError(t, tr.Connect(context.Background(), "alice"))

	// Kill the server: the read fails abnormally and every redial fails.
	srv.Close()
	connMu.Lock()
	for _, conn := range serverConns {
		_ = conn.CloseNow()
	}
	connMu.Unlock()

	require.Eventually(t, func() bool {
		return tr.Status().State == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	var attempts []int
	for _, status := range recorder.all() {
		if status.State == StateReconnecting {
			attempts = append(attempts, status.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)

	// Degraded is terminal: no new attempts appear until Connect is called.
	before := len(recorder.all())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, len(recorder.all()))
}

func TestReconnectSucceedsAndResetsAttempts(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := newWSServer(t, func(ctx context.Context, conn *websocket.Conn) {
		mu.Lock()
		conns++
		first := conns == 1
		mu.Unlock()

		if first {
			// Abnormal close to provoke the retry schedule.
			_ = conn.Close(websocket.StatusInternalError, "boom")
			return
		}
		_, _, _ = conn.Read(ctx)
	})

	tr := New(testConfig(wsURL(srv)))
	recorder := &statusRecorder{}
	tr.OnStateChange(recorder.record)

	require.NoError(t, tr.Connect(context.Background(), "alice"))
	defer tr.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns >= 2 && tr.Status().State == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	maxAttempt := 0
	for _, status := range recorder.all() {
		if status.State == StateReconnecting && status.Attempt > maxAttempt {
			maxAttempt = status.Attempt
		}
	}
	assert.Equal(t, 1, maxAttempt, "first retry should have succeeded")
}

func TestSendWhileDisconnectedDrops(t *testing.T) {
	tr := New(testConfig("ws://127.0.0.1:1"))

	// Must not panic or block; the poller is the correctness backstop.
	tr.Send(todo.NewCreated(todo.New("alice", "lost"), todo.SourceTraditional))
	assert.Equal(t, StateDisconnected, tr.Status().State)
}
