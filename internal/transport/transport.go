// Package transport maintains the long-lived WebSocket connection a session
// uses for real-time todo change delivery.
//
// The transport owns exactly one connection per session. Outgoing change
// events are serialized into wire envelopes and sent best-effort: when the
// connection is down the event is dropped and the fallback poller is the
// correctness backstop. Incoming frames are parsed into change events; a
// malformed frame is logged and skipped without tearing the connection down.
//
// Reconnection is an explicit state machine (see State and RetryPolicy):
// an abnormal close starts a bounded linear-backoff schedule, an intentional
// close (status 1000, either side) does not. When the schedule is exhausted
// the transport degrades to StateDisconnected and stays there until Connect
// is called again.
package transport

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"todosync/internal/todo"
)

// EventHandler receives inbound change events that passed parsing and echo
// filtering.
type EventHandler func(event todo.ChangeEvent)

// StateHandler is notified on every connection state transition.
type StateHandler func(status Status)

// Config holds transport configuration.
type Config struct {
	// HubURL is the base URL of the sync hub, e.g. "ws://localhost:8080".
	HubURL string

	// SessionID identifies this session in outgoing envelopes so the
	// transport can discard its own echoes. Defaults to a fresh UUID.
	SessionID string

	// Retry is the reconnection schedule.
	Retry RetryPolicy

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// WriteTimeout bounds each outgoing frame.
	WriteTimeout time.Duration

	// Logger for transport activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(hubURL string) *Config {
	return &Config{
		HubURL:       hubURL,
		SessionID:    uuid.NewString(),
		Retry:        DefaultRetryPolicy(),
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[transport] ", log.LstdFlags),
	}
}

// Transport manages one persistent connection and its reconnect lifecycle.
type Transport struct {
	config *Config

	onEvent EventHandler
	onState StateHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	userID  string
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a transport. Handlers must be registered before Connect.
func New(config *Config) *Transport {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if config.Retry.BaseDelay <= 0 {
		config.Retry.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	return &Transport{
		config: config,
		status: Status{State: StateDisconnected},
	}
}

// SessionID returns the id stamped on this transport's outgoing envelopes.
func (t *Transport) SessionID() string {
	return t.config.SessionID
}

// OnEvent registers the inbound event handler.
func (t *Transport) OnEvent(fn EventHandler) {
	t.onEvent = fn
}

// OnStateChange registers the state transition handler.
func (t *Transport) OnStateChange(fn StateHandler) {
	t.onState = fn
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect establishes the connection for userID. It returns when the socket
// is open, or with an error if the initial attempt fails; the caller may
// retry. A successful Connect starts the read loop, which owns all
// subsequent reconnection.
func (t *Transport) Connect(ctx context.Context, userID string) error {
	t.mu.Lock()
	if t.status.State != StateDisconnected {
		t.mu.Unlock()
		return fmt.Errorf("transport already %s", t.status.State)
	}
	t.userID = userID
	t.closing = false
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	t.setStatus(Status{State: StateConnecting})

	conn, err := t.dial(ctx)
	if err != nil {
		t.mu.Lock()
		t.cancel()
		t.cancel = nil
		t.mu.Unlock()
		t.setStatus(Status{State: StateDisconnected})
		return fmt.Errorf("failed to connect to hub: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setStatus(Status{State: StateConnected})

	t.wg.Add(1)
	go t.readLoop(conn)

	return nil
}

// Send serializes the event and writes it to the hub. Best effort: when the
// transport is not connected the event is dropped, and a write failure is
// left to the read loop to classify. The fallback poller heals any loss.
func (t *Transport) Send(event todo.ChangeEvent) {
	t.mu.Lock()
	conn := t.conn
	connected := t.status.State == StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		t.config.Logger.Printf("Not connected, dropping outgoing %s event for %s", event.Type, event.TargetID())
		return
	}

	data, err := todo.EncodeEnvelope(t.config.SessionID, event)
	if err != nil {
		t.config.Logger.Printf("Failed to encode event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.config.Logger.Printf("Failed to send %s event for %s: %v", event.Type, event.TargetID(), err)
	}
}

// Close shuts the connection down intentionally, using status 1000 so the
// reconnect policy does not fire. Safe to call multiple times and before
// Connect.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closing || t.cancel == nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session closing")
	}
	cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()
	t.setStatus(Status{State: StateDisconnected})
	return nil
}

// dial performs a single connection attempt.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/ws/todos/%s", t.config.HubURL, t.userID)

	dialCtx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop reads frames until the connection drops, then decides between
// intentional shutdown and reconnection.
func (t *Transport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		_, data, err := conn.Read(t.ctx)
		if err != nil {
			if t.isIntentionalClose(err) {
				t.setStatus(Status{State: StateDisconnected})
				return
			}
			t.config.Logger.Printf("Connection lost: %v", err)
			t.reconnect()
			return
		}
		t.handleFrame(data)
	}
}

// handleFrame parses one inbound frame. Parse failures skip only that frame.
func (t *Transport) handleFrame(data []byte) {
	env, err := todo.DecodeEnvelope(data)
	if err != nil {
		t.config.Logger.Printf("Skipping malformed frame: %v", err)
		return
	}

	// Echo: our own change coming back over the channel we broadcast on.
	if env.Origin == t.config.SessionID {
		return
	}

	if t.onEvent != nil {
		t.onEvent(env.Event)
	}
}

// reconnect runs the bounded linear-backoff schedule. On success it resumes
// the read loop on the new connection; on exhaustion the transport degrades
// to StateDisconnected and stays there until Connect is called again.
func (t *Transport) reconnect() {
	for attempt := 1; ; attempt++ {
		if t.config.Retry.Exhausted(attempt) {
			t.config.Logger.Printf("Reconnection gave up after %d attempts", t.config.Retry.MaxAttempts)
			t.setStatus(Status{State: StateDisconnected})
			return
		}

		delay := t.config.Retry.Delay(attempt)
		t.setStatus(Status{State: StateReconnecting, Attempt: attempt, NextDelay: delay})
		t.config.Logger.Printf("Reconnecting in %s (attempt %d/%d)", delay, attempt, t.config.Retry.MaxAttempts)

		select {
		case <-t.ctx.Done():
			t.setStatus(Status{State: StateDisconnected})
			return
		case <-time.After(delay):
		}

		conn, err := t.dial(t.ctx)
		if err != nil {
			t.config.Logger.Printf("Reconnect attempt %d failed: %v", attempt, err)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setStatus(Status{State: StateConnected})
		t.config.Logger.Printf("Reconnected after %d attempt(s)", attempt)

		t.wg.Add(1)
		go t.readLoop(conn)
		return
	}
}

// isIntentionalClose reports whether the read error is the result of an
// intentional shutdown rather than a failure.
func (t *Transport) isIntentionalClose(err error) bool {
	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing || t.ctx.Err() != nil {
		return true
	}
	// Status 1000 from the peer is an intentional close too.
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// setStatus records a state transition and notifies the handler.
func (t *Transport) setStatus(status Status) {
	t.mu.Lock()
	if t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	t.mu.Unlock()

	if t.onState != nil {
		t.onState(status)
	}
}
