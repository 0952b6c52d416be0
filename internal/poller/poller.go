// Package poller provides the fallback reconciliation loop: a timer-driven
// full fetch from the Task Store that heals any drift the real-time channel
// let through.
//
// Each tick fetches the authoritative collection, diffs it against the read
// model, and publishes events only for todos that actually changed. The
// poller runs regardless of transport health; it is the correctness
// backstop, not an optimization.
package poller

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"todosync/internal/bus"
	"todosync/internal/store"
	"todosync/internal/todo"
)

// Poller periodically reconciles the read model against the Task Store.
type Poller struct {
	fetcher store.Fetcher
	bus     *bus.Bus
	logger  *log.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Bool
}

// New creates a poller publishing into b. If logger is nil, a default logger
// writing to stderr is used.
func New(fetcher store.Fetcher, b *bus.Bus, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(os.Stderr, "[poller] ", log.LstdFlags)
	}
	return &Poller{
		fetcher: fetcher,
		bus:     b,
		logger:  logger,
	}
}

// Start begins the repeating reconciliation timer for userID. Calling Start
// on a running poller is a no-op.
func (p *Poller) Start(interval time.Duration, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx, interval, userID)

	p.logger.Printf("Started (interval %s, user %s)", interval, userID)
}

// Stop cancels the timer. Safe to call multiple times and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Println("Stopped")
}

// run fires reconciliations until the context is cancelled.
func (p *Poller) run(ctx context.Context, interval time.Duration, userID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks run concurrently with the loop so a slow fetch
			// skips the next tick instead of queueing it.
			if !p.inFlight.CompareAndSwap(false, true) {
				p.logger.Println("Reconciliation still in flight, skipping tick")
				continue
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.inFlight.Store(false)
				p.reconcile(ctx, userID)
			}()
		}
	}
}

// ReconcileNow performs one reconciliation outside the timer, unless one is
// already in flight.
func (p *Poller) ReconcileNow(ctx context.Context, userID string) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)
	p.reconcile(ctx, userID)
}

// reconcile fetches the authoritative collection and publishes the diff.
// Fetch errors skip the tick; the interval itself throttles retries.
func (p *Poller) reconcile(ctx context.Context, userID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	authoritative, err := p.fetcher.List(fetchCtx, userID)
	if err != nil {
		p.logger.Printf("Fetch failed, skipping tick: %v", err)
		return
	}

	events := p.diff(authoritative)
	for _, event := range events {
		p.bus.Publish(event)
	}

	if len(events) > 0 {
		p.logger.Printf("Reconciled %d change(s)", len(events))
	}
}

// diff compares the authoritative collection to the read model and emits
// events only for genuine differences, in stable collection order.
// Reconciliation changes carry the traditional source: they reflect the
// store's state, not a conversational claim.
func (p *Poller) diff(authoritative []*todo.Todo) []todo.ChangeEvent {
	var events []todo.ChangeEvent

	seen := make(map[string]bool, len(authoritative))
	for _, t := range authoritative {
		seen[t.ID] = true

		current := p.bus.Get(t.ID)
		switch {
		case current == nil:
			events = append(events, todo.NewCreated(t, todo.SourceTraditional))
		case !current.Equal(t):
			events = append(events, todo.NewUpdated(t, todo.SourceTraditional))
		}
	}

	for _, t := range p.bus.Snapshot() {
		if !seen[t.ID] {
			events = append(events, todo.NewDeleted(t.ID, todo.SourceTraditional))
		}
	}

	return events
}
