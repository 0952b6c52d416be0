package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"todosync/internal/todo"
)

// ServerConfig holds Task Store server configuration.
type ServerConfig struct {
	// Port to listen on. Port 0 picks a random free port.
	Port int

	// Logger for server activity.
	Logger *log.Logger
}

// Server exposes CRUD over the todo database at /api/{user}/tasks.
type Server struct {
	db       *DB
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewServer creates a Task Store HTTP server over db.
func NewServer(db *DB, config *ServerConfig) *Server {
	if config == nil {
		config = &ServerConfig{Port: 8081}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Server{
		db:     db,
		addr:   fmt.Sprintf(":%d", config.Port),
		logger: config.Logger,
	}
}

// Start begins serving the Task Store API.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{user}/tasks", s.handleList)
	mux.HandleFunc("POST /api/{user}/tasks", s.handleCreate)
	mux.HandleFunc("PUT /api/{user}/tasks/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/{user}/tasks/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Task store listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("store shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	todos, err := s.db.ListTodos(r.Context(), user)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if todos == nil {
		todos = []*todo.Todo{}
	}
	s.writeJSON(w, http.StatusOK, todos)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	var t todo.Todo
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	t.OwnerID = user
	if t.ID == "" {
		fresh := todo.New(user, t.Title)
		fresh.Description = t.Description
		fresh.Completed = t.Completed
		if t.Priority != "" {
			fresh.Priority = t.Priority
		}
		fresh.DueDate = t.DueDate
		t = *fresh
	}
	if err := t.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.db.UpsertTodo(r.Context(), &t); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &t)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	id := r.PathValue("id")

	existing, err := s.db.GetTodo(r.Context(), user, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if existing == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("todo %s not found", id))
		return
	}

	var t todo.Todo
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	t.ID = id
	t.OwnerID = user
	t.CreatedAt = existing.CreatedAt
	if t.UpdatedAt.IsZero() || !t.UpdatedAt.After(existing.UpdatedAt) {
		t.UpdatedAt = time.Now().UTC()
	}
	if err := t.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.db.UpsertTodo(r.Context(), &t); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &t)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	id := r.PathValue("id")

	if err := s.db.DeleteTodo(r.Context(), user, id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Printf("Request failed: %v", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
