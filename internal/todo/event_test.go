package todo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	item := New("alice", "buy milk")
	event := NewCreated(item, SourceChat)

	data, err := EncodeEnvelope("session-1", event)
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, EnvelopeType, env.Type)
	assert.Equal(t, "session-1", env.Origin)
	assert.Equal(t, EventCreated, env.Event.Type)
	assert.Equal(t, SourceChat, env.Event.Source)
	require.NotNil(t, env.Event.Todo)
	assert.Equal(t, item.ID, env.Event.Todo.ID)
	assert.Equal(t, "buy milk", env.Event.Todo.Title)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"wrong type", `{"type":"chat_message","event":{}}`},
		{"missing payload", `{"type":"todo_change","event":{"type":"created","source":"chat","timestamp":"2026-01-02T15:04:05Z"}}`},
		{"unknown source", `{"type":"todo_change","event":{"type":"deleted","todo_id":"t1","source":"carrier-pigeon","timestamp":"2026-01-02T15:04:05Z"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestChangeEventTargetID(t *testing.T) {
	item := New("alice", "title")
	assert.Equal(t, item.ID, NewUpdated(item, SourceChat).TargetID())
	assert.Equal(t, "gone", NewDeleted("gone", SourceTraditional).TargetID())
}

func TestDeletedEventCarriesOnlyID(t *testing.T) {
	event := NewDeleted("t1", SourceTraditional)
	require.NoError(t, event.Validate())
	assert.Nil(t, event.Todo)
	assert.False(t, event.Timestamp.IsZero())
}

func TestTodoValidate(t *testing.T) {
	valid := New("alice", "fine")
	require.NoError(t, valid.Validate())

	missingTitle := New("alice", "")
	assert.Error(t, missingTitle.Validate())

	badPriority := New("alice", "fine")
	badPriority.Priority = "urgent"
	assert.Error(t, badPriority.Validate())
}

func TestTodoEqualComparesTimestamps(t *testing.T) {
	a := New("alice", "same")
	b := a.Clone()
	require.True(t, a.Equal(b))

	// A server-side touch with identical content is still a difference.
	b.UpdatedAt = b.UpdatedAt.Add(time.Second)
	assert.False(t, a.Equal(b))
}

func TestCloneIsDeep(t *testing.T) {
	due := time.Now().UTC().Add(24 * time.Hour)
	a := New("alice", "with due")
	a.DueDate = &due

	b := a.Clone()
	*b.DueDate = b.DueDate.Add(time.Hour)

	assert.True(t, a.DueDate.Equal(due))
}
