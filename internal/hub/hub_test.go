package hub

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todosync/internal/todo"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New(&Config{Port: 0})
	require.NoError(t, h.Start())
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func dialSession(t *testing.T, h *Hub, userID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws/todos/%s", h.Addr(), userID)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func encodeEvent(t *testing.T, origin, owner, title string) []byte {
	t.Helper()
	data, err := todo.EncodeEnvelope(origin, todo.NewCreated(todo.New(owner, title), todo.SourceTraditional))
	require.NoError(t, err)
	return data
}

func TestStartStop(t *testing.T) {
	h := New(&Config{Port: 0})
	require.NoError(t, h.Start())
	assert.NotEmpty(t, h.Addr())
	require.NoError(t, h.Stop())
}

func TestRelayBetweenSessionsOfOneUser(t *testing.T) {
	h := startHub(t)

	sender := dialSession(t, h, "alice")
	receiver := dialSession(t, h, "alice")

	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 2
	}, 2*time.Second, 10*time.Millisecond)

	frame := encodeEvent(t, "session-a", "alice", "shared change")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sender.Write(ctx, websocket.MessageText, frame))

	_, data, err := receiver.Read(ctx)
	require.NoError(t, err)

	env, err := todo.DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "session-a", env.Origin)
	assert.Equal(t, "shared change", env.Event.Todo.Title)
}

func TestSenderDoesNotReceiveOwnFrame(t *testing.T) {
	h := startHub(t)

	sender := dialSession(t, h, "alice")
	receiver := dialSession(t, h, "alice")

	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sender.Write(ctx, websocket.MessageText, encodeEvent(t, "s1", "alice", "one")))

	// Receiver gets the frame; the sender's own read must stay silent.
	_, _, err := receiver.Read(ctx)
	require.NoError(t, err)

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()
	_, _, err = sender.Read(readCtx)
	assert.Error(t, err, "sender should not get its own frame back")
}

func TestUsersAreIsolated(t *testing.T) {
	h := startHub(t)

	alice := dialSession(t, h, "alice")
	bob := dialSession(t, h, "bob")

	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 1 && h.SessionCount("bob") == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, alice.Write(ctx, websocket.MessageText, encodeEvent(t, "s1", "alice", "private")))

	readCtx, readCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer readCancel()
	_, _, err := bob.Read(readCtx)
	assert.Error(t, err, "bob must not see alice's changes")
}

func TestInvalidFramesAreDropped(t *testing.T) {
	h := startHub(t)

	sender := dialSession(t, h, "alice")
	receiver := dialSession(t, h, "alice")

	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sender.Write(ctx, websocket.MessageText, []byte("junk")))
	require.NoError(t, sender.Write(ctx, websocket.MessageText, encodeEvent(t, "s1", "alice", "real")))

	// Only the valid frame arrives, and the sender keeps its connection.
	_, data, err := receiver.Read(ctx)
	require.NoError(t, err)
	env, err := todo.DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "real", env.Event.Todo.Title)

	assert.Equal(t, 2, h.SessionCount("alice"))
}

// syncedBuffer is an io.Writer safe for concurrent hub log output.
type syncedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRemoveUnknownSessionIsNoOp(t *testing.T) {
	logs := &syncedBuffer{}
	h := New(&Config{Port: 0, Logger: log.New(logs, "[hub] ", 0)})
	require.NoError(t, h.Start())
	t.Cleanup(func() { _ = h.Stop() })

	conn := dialSession(t, h, "alice")
	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Not in any room: must not close the connection or log a departure.
	h.removeSession("bob", conn)
	h.removeSession("alice", conn) // client-side conn, not the registered one

	assert.Equal(t, 1, h.SessionCount("alice"))
	assert.NotContains(t, logs.String(), "Session left")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, encodeEvent(t, "s1", "alice", "still alive")))
}

func TestSessionLeaveUpdatesCount(t *testing.T) {
	h := startHub(t)

	conn := dialSession(t, h, "alice")
	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
