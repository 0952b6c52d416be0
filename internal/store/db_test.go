package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todosync/internal/todo"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "todos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "todos.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestUpsertAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)
	item := todo.New("alice", "file taxes")
	item.Description = "before the extension deadline"
	item.Priority = todo.PriorityHigh
	item.DueDate = &due

	require.NoError(t, db.UpsertTodo(ctx, item))

	got, err := db.GetTodo(ctx, "alice", item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "file taxes", got.Title)
	assert.Equal(t, "before the extension deadline", got.Description)
	assert.Equal(t, todo.PriorityHigh, got.Priority)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	assert.True(t, got.CreatedAt.Equal(item.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(item.UpdatedAt))
}

func TestGetMissingReturnsNil(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetTodo(context.Background(), "alice", "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertReplacesExisting(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	item := todo.New("alice", "draft")
	require.NoError(t, db.UpsertTodo(ctx, item))

	item.Title = "final"
	item.Completed = true
	item.UpdatedAt = item.UpdatedAt.Add(time.Minute)
	require.NoError(t, db.UpsertTodo(ctx, item))

	got, err := db.GetTodo(ctx, "alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.True(t, got.Completed)

	todos, err := db.ListTodos(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, todos, 1)
}

func TestListIsScopedToOwnerAndOrdered(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, title := range []string{"third", "first", "second"} {
		item := todo.New("alice", title)
		// first < second < third by creation time, input deliberately shuffled
		offsets := []time.Duration{2 * time.Second, 0, time.Second}
		item.CreatedAt = base.Add(offsets[i])
		item.UpdatedAt = item.CreatedAt
		require.NoError(t, db.UpsertTodo(ctx, item))
	}
	require.NoError(t, db.UpsertTodo(ctx, todo.New("bob", "not alices")))

	todos, err := db.ListTodos(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, todos, 3)
	assert.Equal(t, "first", todos[0].Title)
	assert.Equal(t, "second", todos[1].Title)
	assert.Equal(t, "third", todos[2].Title)
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	item := todo.New("alice", "short lived")
	require.NoError(t, db.UpsertTodo(ctx, item))

	require.NoError(t, db.DeleteTodo(ctx, "alice", item.ID))
	require.NoError(t, db.DeleteTodo(ctx, "alice", item.ID))

	got, err := db.GetTodo(ctx, "alice", item.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertRejectsInvalidTodo(t *testing.T) {
	db := openTestDB(t)

	bad := todo.New("alice", "ok title")
	bad.Priority = "urgent"
	assert.Error(t, db.UpsertTodo(context.Background(), bad))
}
