package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"todosync/internal/todo"
)

// Fetcher is the read surface the fallback poller needs: a full
// authoritative fetch of one user's todos.
type Fetcher interface {
	List(ctx context.Context, userID string) ([]*todo.Todo, error)
}

// Client is the HTTP client for the Task Store API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Task Store client for the given base URL,
// e.g. "http://localhost:8081".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// List fetches the full authoritative todo collection for a user.
func (c *Client) List(ctx context.Context, userID string) ([]*todo.Todo, error) {
	var todos []*todo.Todo
	path := fmt.Sprintf("/api/%s/tasks", userID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &todos); err != nil {
		return nil, fmt.Errorf("list tasks failed: %w", err)
	}
	return todos, nil
}

// Create persists a new todo and returns the stored value.
func (c *Client) Create(ctx context.Context, t *todo.Todo) (*todo.Todo, error) {
	var created todo.Todo
	path := fmt.Sprintf("/api/%s/tasks", t.OwnerID)
	if err := c.doRequest(ctx, http.MethodPost, path, t, &created); err != nil {
		return nil, fmt.Errorf("create task failed: %w", err)
	}
	return &created, nil
}

// Update persists changes to an existing todo and returns the stored value.
func (c *Client) Update(ctx context.Context, t *todo.Todo) (*todo.Todo, error) {
	var updated todo.Todo
	path := fmt.Sprintf("/api/%s/tasks/%s", t.OwnerID, t.ID)
	if err := c.doRequest(ctx, http.MethodPut, path, t, &updated); err != nil {
		return nil, fmt.Errorf("update task failed: %w", err)
	}
	return &updated, nil
}

// Delete removes a todo.
func (c *Client) Delete(ctx context.Context, userID, id string) error {
	path := fmt.Sprintf("/api/%s/tasks/%s", userID, id)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete task failed: %w", err)
	}
	return nil
}

// doRequest performs one JSON round trip against the store.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("store error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
