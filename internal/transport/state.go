package transport

import (
	"fmt"
	"time"
)

// State is the connection lifecycle state of a transport.
type State int

const (
	// StateDisconnected means no connection exists and no retry is pending.
	// This is both the initial state and the terminal degraded state after
	// reconnection attempts are exhausted.
	StateDisconnected State = iota
	// StateConnecting means the initial dial is in progress.
	StateConnecting
	// StateConnected means the socket is open and events flow.
	StateConnected
	// StateReconnecting means the connection dropped abnormally and a
	// bounded retry schedule is running.
	StateReconnecting
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the connection state machine.
// Attempt and NextDelay are meaningful only in StateReconnecting.
type Status struct {
	State     State
	Attempt   int
	NextDelay time.Duration
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	if s.State == StateReconnecting {
		return fmt.Sprintf("reconnecting (attempt %d, next delay %s)", s.Attempt, s.NextDelay)
	}
	return s.State.String()
}

// RetryPolicy is the reconnection schedule: linear backoff bounded by a
// maximum attempt count.
type RetryPolicy struct {
	// BaseDelay is multiplied by the attempt number to produce each delay.
	BaseDelay time.Duration
	// MaxAttempts is how many consecutive reconnects are tried before the
	// transport gives up and degrades to StateDisconnected.
	MaxAttempts int
}

// DefaultRetryPolicy returns the standard schedule: 500ms, 1s, 1.5s, 2s, 2.5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   500 * time.Millisecond,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Exhausted reports whether the given attempt number exceeds the schedule.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
