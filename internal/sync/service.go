// Package sync provides the facade the rest of the application talks to.
//
// One Service is one user session. It wires the four moving parts together:
// local mutations become change events, go through the bus into the read
// model, and are broadcast over the transport to the user's other sessions;
// remote events arrive over the transport and take the same path through the
// bus; the fallback poller heals whatever the channel dropped.
//
// The service is explicitly constructed and userId-scoped; there is no
// shared module-level instance, so multiple simulated users can coexist in
// one process.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"todosync/internal/agent"
	"todosync/internal/bus"
	"todosync/internal/poller"
	"todosync/internal/todo"
	"todosync/internal/transport"
)

// TraditionalEdits is one batch of form-UI mutations.
type TraditionalEdits struct {
	Created []*todo.Todo
	Updated []*todo.Todo
	Deleted []string
}

// Service is the single integration point for one user session.
type Service struct {
	bus        *bus.Bus
	transport  *transport.Transport
	poller     *poller.Poller
	aggregator *agent.Aggregator
	logger     *log.Logger

	pollInterval time.Duration

	mu          sync.Mutex
	userID      string
	initialized bool
}

// Config holds facade configuration.
type Config struct {
	// PollInterval is the fallback reconciliation interval.
	PollInterval time.Duration

	// Logger for facade activity.
	Logger *log.Logger
}

// NewService wires a session from its parts. All dependencies are required
// except the config, which defaults to a 30s poll interval and stderr logs.
func NewService(b *bus.Bus, tr *transport.Transport, p *poller.Poller, config *Config) *Service {
	if config == nil {
		config = &Config{}
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	s := &Service{
		bus:          b,
		transport:    tr,
		poller:       p,
		aggregator:   agent.NewAggregator(b, config.Logger),
		logger:       config.Logger,
		pollInterval: config.PollInterval,
	}

	// Remote events take the same path into the read model as local ones;
	// the bus is the only writer.
	tr.OnEvent(func(event todo.ChangeEvent) {
		s.bus.Publish(event)
	})

	return s
}

// Initialize opens the real-time channel for userID and starts the fallback
// poller. A failed connect leaves the poller running: the session is
// degraded, not broken.
func (s *Service) Initialize(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized for user %s", s.userID)
	}
	s.userID = userID
	s.initialized = true
	s.mu.Unlock()

	s.poller.Start(s.pollInterval, userID)

	if err := s.transport.Connect(ctx, userID); err != nil {
		s.logger.Printf("Real-time channel unavailable, relying on poller: %v", err)
		return fmt.Errorf("failed to open real-time channel: %w", err)
	}
	return nil
}

// Subscribe registers a listener for the materialized collection.
func (s *Service) Subscribe(fn bus.CollectionListener) func() {
	return s.bus.Subscribe(fn)
}

// SubscribeToChanges registers a listener for raw change events.
func (s *Service) SubscribeToChanges(fn bus.ChangeListener) func() {
	return s.bus.SubscribeToChanges(fn)
}

// OnConnectionChange registers a handler for transport state transitions.
// The degraded state (Disconnected after exhausted reconnects) arrives here
// so the UI can show a "real-time updates paused" indicator.
func (s *Service) OnConnectionChange(fn transport.StateHandler) {
	s.transport.OnStateChange(fn)
}

// ConnectionStatus returns the current transport status.
func (s *Service) ConnectionStatus() transport.Status {
	return s.transport.Status()
}

// Snapshot returns the current materialized collection.
func (s *Service) Snapshot() []*todo.Todo {
	return s.bus.Snapshot()
}

// SyncFromChat ingests the full post-exchange todo collection from the
// conversational producer. Created, updated, and deleted are all derived by
// diffing against the read model, never from the producer's claim.
func (s *Service) SyncFromChat(todos []*todo.Todo) {
	for _, event := range s.diff(todos, todo.SourceChat) {
		s.publish(event)
	}
}

// SyncFromToolResults ingests one conversational exchange's tool results via
// the aggregator.
func (s *Service) SyncFromToolResults(results []agent.ToolResult) {
	for _, event := range s.aggregator.Aggregate(results) {
		s.publish(event)
	}
}

// SyncFromTraditionalEdits ingests one batch of form-UI mutations.
func (s *Service) SyncFromTraditionalEdits(edits TraditionalEdits) {
	for _, t := range edits.Created {
		s.publish(todo.NewCreated(t, todo.SourceTraditional))
	}
	for _, t := range edits.Updated {
		s.publish(todo.NewUpdated(t, todo.SourceTraditional))
	}
	for _, id := range edits.Deleted {
		s.publish(todo.NewDeleted(id, todo.SourceTraditional))
	}
}

// UpdatePollInterval restarts the fallback poller with a new interval.
// Used when configuration is reloaded at runtime. No-op before Initialize.
func (s *Service) UpdatePollInterval(interval time.Duration) {
	s.mu.Lock()
	if !s.initialized || interval <= 0 || interval == s.pollInterval {
		s.mu.Unlock()
		return
	}
	s.pollInterval = interval
	userID := s.userID
	s.mu.Unlock()

	s.logger.Printf("Poll interval changed to %s", interval)
	s.poller.Stop()
	s.poller.Start(interval, userID)
}

// Disconnect tears the session down: intentional transport close, poller
// stopped, session state cleared. Safe to call multiple times and before
// Initialize.
func (s *Service) Disconnect() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	s.userID = ""
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		s.logger.Printf("Transport close failed: %v", err)
	}
	s.poller.Stop()
	s.bus.Reset()
}

// publish applies an event locally and, if the merge accepted it, broadcasts
// it to the user's other sessions. Rejected (stale or duplicate) events are
// not rebroadcast.
func (s *Service) publish(event todo.ChangeEvent) {
	if s.bus.Publish(event) {
		s.transport.Send(event)
	}
}

// diff derives change events from a full authoritative collection.
func (s *Service) diff(todos []*todo.Todo, source todo.Source) []todo.ChangeEvent {
	var events []todo.ChangeEvent

	seen := make(map[string]bool, len(todos))
	for _, t := range todos {
		seen[t.ID] = true

		current := s.bus.Get(t.ID)
		switch {
		case current == nil:
			events = append(events, todo.NewCreated(t, source))
		case !current.Equal(t):
			events = append(events, todo.NewUpdated(t, source))
		}
	}

	for _, t := range s.bus.Snapshot() {
		if !seen[t.ID] {
			events = append(events, todo.NewDeleted(t.ID, source))
		}
	}

	return events
}
