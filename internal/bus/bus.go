// Package bus provides the in-process change event bus and the materialized
// read model it maintains.
//
// The bus is the only writer of the read model: every mutation, whether it
// arrives over the real-time transport, from a local edit, or from a fallback
// reconciliation, goes through Publish. Conflicts are resolved with a
// last-write-wins rule keyed by event timestamp; an event older than the last
// applied event for the same todo id is rejected and notifies nobody.
package bus

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"todosync/internal/todo"
)

// CollectionListener receives the full materialized collection after each
// accepted event.
type CollectionListener func(todos []*todo.Todo)

// ChangeListener receives the raw change event, including its source, before
// materialization. Used for provenance-aware consumers ("updated by chat").
type ChangeListener func(event todo.ChangeEvent)

// record tracks the last applied state for one todo id. A nil Todo is a
// tombstone: the id was deleted at AppliedAt and stays deleted until a
// strictly newer event re-introduces it.
type record struct {
	todo      *todo.Todo
	appliedAt time.Time
}

type collectionSub struct {
	id int
	fn CollectionListener
}

type changeSub struct {
	id int
	fn ChangeListener
}

// Bus fans accepted change events out to subscribers and owns the read model.
type Bus struct {
	// notifyMu serializes whole Publish calls so listeners observe events
	// and collection snapshots in apply order even when publishers run on
	// different goroutines (transport read loop vs. local edits).
	notifyMu sync.Mutex

	mu             sync.Mutex
	records        map[string]*record
	collectionSubs []collectionSub
	changeSubs     []changeSub
	nextSubID      int
	logger         *log.Logger
}

// New creates an empty bus. If logger is nil, a default logger writing to
// stderr is used.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}
	return &Bus{
		records: make(map[string]*record),
		logger:  logger,
	}
}

// Subscribe registers a listener for the materialized collection.
// Listeners are invoked synchronously, in registration order, after each
// accepted event. The returned function removes the listener; it is safe to
// call more than once.
func (b *Bus) Subscribe(fn CollectionListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.collectionSubs = append(b.collectionSubs, collectionSub{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.collectionSubs {
			if sub.id == id {
				b.collectionSubs = append(b.collectionSubs[:i], b.collectionSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeToChanges registers a listener for raw change events.
func (b *Bus) SubscribeToChanges(fn ChangeListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID
	b.changeSubs = append(b.changeSubs, changeSub{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.changeSubs {
			if sub.id == id {
				b.changeSubs = append(b.changeSubs[:i], b.changeSubs[i+1:]...)
				return
			}
		}
	}
}

// Publish applies the event to the read model and, if it was accepted,
// notifies all subscribers. Returns true if the event was applied.
//
// Publishing the same event twice is a no-op the second time: an event is
// accepted only when its timestamp is strictly newer than the last applied
// event for the same id.
//
// Listeners run without b.mu held, so they may read back through Get or
// Snapshot; they must not call Publish.
func (b *Bus) Publish(event todo.ChangeEvent) bool {
	if err := event.Validate(); err != nil {
		b.logger.Printf("Dropping invalid event: %v", err)
		return false
	}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()

	if !b.applyLocked(event) {
		b.mu.Unlock()
		return false
	}

	snapshot := b.snapshotLocked()
	changeSubs := make([]changeSub, len(b.changeSubs))
	copy(changeSubs, b.changeSubs)
	collectionSubs := make([]collectionSub, len(b.collectionSubs))
	copy(collectionSubs, b.collectionSubs)
	b.mu.Unlock()

	// Change listeners see the raw event first, then collection listeners
	// see the materialized result. A panicking listener is isolated so it
	// cannot break delivery to the rest.
	for _, sub := range changeSubs {
		b.safeInvokeChange(sub.fn, event)
	}
	for _, sub := range collectionSubs {
		b.safeInvokeCollection(sub.fn, snapshot)
	}
	return true
}

// applyLocked performs the monotonic merge. Caller holds b.mu.
func (b *Bus) applyLocked(event todo.ChangeEvent) bool {
	id := event.TargetID()

	if existing, ok := b.records[id]; ok {
		// Last write wins: strictly-newer only, so replayed events and
		// reordered stale frames (including stale deletes) are rejected.
		if !event.Timestamp.After(existing.appliedAt) {
			return false
		}
	}

	switch event.Type {
	case todo.EventDeleted:
		b.records[id] = &record{todo: nil, appliedAt: event.Timestamp}
	default:
		b.records[id] = &record{todo: event.Todo.Clone(), appliedAt: event.Timestamp}
	}
	return true
}

// snapshotLocked materializes the current collection. Caller holds b.mu.
func (b *Bus) snapshotLocked() []*todo.Todo {
	out := make([]*todo.Todo, 0, len(b.records))
	for _, rec := range b.records {
		if rec.todo != nil {
			out = append(out, rec.todo.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Snapshot returns the current materialized collection.
func (b *Bus) Snapshot() []*todo.Todo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Get returns the current value for id, or nil if the id is absent or
// deleted.
func (b *Bus) Get(id string) *todo.Todo {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.records[id]; ok && rec.todo != nil {
		return rec.todo.Clone()
	}
	return nil
}

// Has reports whether id currently exists in the read model.
func (b *Bus) Has(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	return ok && rec.todo != nil
}

// Reset clears the read model and drops all subscriptions. Used when a
// session ends.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]*record)
	b.collectionSubs = nil
	b.changeSubs = nil
}

func (b *Bus) safeInvokeChange(fn ChangeListener, event todo.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Change listener panicked: %v", r)
		}
	}()
	fn(event)
}

func (b *Bus) safeInvokeCollection(fn CollectionListener, snapshot []*todo.Todo) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Collection listener panicked: %v", r)
		}
	}()
	fn(snapshot)
}
