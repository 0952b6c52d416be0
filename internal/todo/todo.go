// Package todo defines the shared vocabulary of the sync engine: the Todo
// entity, the change events that describe mutations to it, and the wire
// envelope those events travel in.
//
// Todos are owned by the Task Store; everything in this module holds only
// transient, possibly-stale copies. Change events are immutable once
// constructed and are consumed exactly once by the event bus fan-out.
package todo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority is the user-facing importance of a todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Todo is a single todo item as the Task Store defines it.
// Timestamps drive last-write-wins conflict resolution: UpdatedAt is
// compared whenever two versions of the same id meet.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	OwnerID     string     `json:"owner_id"`
}

// New creates a todo with a fresh UUID and both timestamps set to now.
func New(ownerID, title string) *Todo {
	now := time.Now().UTC()
	return &Todo{
		ID:        uuid.NewString(),
		Title:     title,
		Priority:  PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
		OwnerID:   ownerID,
	}
}

// Validate checks that the todo has the fields the Task Store requires.
func (t *Todo) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("priority must be low, medium, or high (got %q)", t.Priority)
	}
	if t.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Clone returns a deep copy. The read model hands out clones so listeners
// cannot mutate shared state.
func (t *Todo) Clone() *Todo {
	if t == nil {
		return nil
	}
	out := *t
	if t.DueDate != nil {
		due := *t.DueDate
		out.DueDate = &due
	}
	return &out
}

// Equal reports whether two todos carry the same user-visible state.
// Timestamps are compared too: a reconciliation diff must not treat a
// server-side touch as a no-op, or the merge rule would later reject it.
func (t *Todo) Equal(other *Todo) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.ID != other.ID ||
		t.Title != other.Title ||
		t.Description != other.Description ||
		t.Completed != other.Completed ||
		t.Priority != other.Priority ||
		t.OwnerID != other.OwnerID {
		return false
	}
	if (t.DueDate == nil) != (other.DueDate == nil) {
		return false
	}
	if t.DueDate != nil && !t.DueDate.Equal(*other.DueDate) {
		return false
	}
	return t.CreatedAt.Equal(other.CreatedAt) && t.UpdatedAt.Equal(other.UpdatedAt)
}
