// Package store provides the Task Store: the authoritative owner of todo
// state. It contains an embedded-SQLite-backed HTTP server and the client
// the sync engine uses to talk to it.
//
// The sync engine treats the store as a black box reachable over HTTP; the
// server here exists so the system is runnable and testable end to end.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"todosync/internal/todo"
)

// DB wraps the embedded SQLite database holding todos.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path. The parent
// directory is created if needed and the schema is initialized. The caller
// MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	// WAL for concurrent readers during writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// initSchema creates the todos table and indexes. Idempotent.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS todos (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed   INTEGER NOT NULL DEFAULT 0,
		priority    TEXT NOT NULL DEFAULT 'medium',
		due_date    TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		owner_id    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_todos_owner ON todos(owner_id);
	CREATE INDEX IF NOT EXISTS idx_todos_owner_updated ON todos(owner_id, updated_at);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ListTodos returns every todo owned by ownerID, oldest first.
func (db *DB) ListTodos(ctx context.Context, ownerID string) ([]*todo.Todo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, description, completed, priority, due_date, created_at, updated_at, owner_id
		FROM todos WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var todos []*todo.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}
	return todos, nil
}

// GetTodo returns one todo, or nil if it does not exist.
func (db *DB) GetTodo(ctx context.Context, ownerID, id string) (*todo.Todo, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, title, description, completed, priority, due_date, created_at, updated_at, owner_id
		FROM todos WHERE owner_id = ? AND id = ?`, ownerID, id)

	t, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpsertTodo inserts or replaces a todo.
func (db *DB) UpsertTodo(ctx context.Context, t *todo.Todo) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid todo: %w", err)
	}

	var due interface{}
	if t.DueDate != nil {
		due = t.DueDate.UTC().Format(time.RFC3339Nano)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO todos (id, title, description, completed, priority, due_date, created_at, updated_at, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			completed = excluded.completed,
			priority = excluded.priority,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at`,
		t.ID, t.Title, t.Description, boolToInt(t.Completed), string(t.Priority), due,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano), t.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to upsert todo: %w", err)
	}
	return nil
}

// DeleteTodo removes a todo. Deleting a missing todo is not an error.
func (db *DB) DeleteTodo(ctx context.Context, ownerID, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM todos WHERE owner_id = ? AND id = ?`, ownerID, id); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTodo(row scanner) (*todo.Todo, error) {
	var (
		t         todo.Todo
		completed int
		priority  string
		due       sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &completed, &priority, &due, &createdAt, &updatedAt, &t.OwnerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan todo: %w", err)
	}

	t.Completed = completed != 0
	t.Priority = todo.Priority(priority)

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if due.Valid {
		d, err := time.Parse(time.RFC3339Nano, due.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse due_date: %w", err)
		}
		t.DueDate = &d
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
