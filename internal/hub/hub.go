// Package hub provides the server side of the real-time channel: a WebSocket
// endpoint per user that relays todo change envelopes between that user's
// open sessions.
//
// The hub is deliberately dumb. It does not interpret events or keep todo
// state; it validates that a frame is a well-formed todo_change envelope and
// forwards it to every other connection in the same user's room. Ordering is
// whatever the network delivers; the clients' merge rule tolerates
// reordering.
package hub

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

	"github.com/coder/websocket"

	"todosync/internal/todo"
)

// Config holds hub server configuration.
type Config struct {
	// Port to listen on. Port 0 picks a random free port.
	Port int

	// WriteTimeout bounds each relayed frame.
	WriteTimeout time.Duration

	// Logger for hub activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[hub] ", log.LstdFlags),
	}
}

// Hub relays change envelopes between the sessions of each user.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	rooms   map[string]map[*websocket.Conn]bool // userID -> connections
	roomsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	config *Config
}

// New creates a hub server.
func New(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		addr:   fmt.Sprintf(":%d", config.Port),
		rooms:  make(map[string]map[*websocket.Conn]bool),
		ctx:    ctx,
		cancel: cancel,
		config: config,
	}
}

// Start begins listening and serving WebSocket upgrades.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/todos/{user}", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.config.Logger.Printf("Hub listening on %s", ln.Addr())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.config.Logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the hub down, closing every client connection.
func (h *Hub) Stop() error {
	h.config.Logger.Println("Stopping hub")
	h.cancel()

	h.roomsMu.Lock()
	for _, room := range h.rooms {
		for conn := range room {
			_ = conn.Close(websocket.StatusGoingAway, "hub shutting down")
		}
	}
	h.rooms = make(map[string]map[*websocket.Conn]bool)
	h.roomsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("hub shutdown error: %w", err)
	}

	h.wg.Wait()
	h.config.Logger.Println("Hub stopped")
	return nil
}

// Addr returns the listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// SessionCount returns the number of open connections for a user.
func (h *Hub) SessionCount(userID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[userID])
}

// handleWebSocket upgrades the connection and joins it to the user's room.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.config.Logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.roomsMu.Lock()
	if h.rooms[userID] == nil {
		h.rooms[userID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[userID][conn] = true
	count := len(h.rooms[userID])
	h.roomsMu.Unlock()

	h.config.Logger.Printf("Session joined for user %s (total: %d)", userID, count)

	h.wg.Add(1)
	go h.readLoop(userID, conn)
}

// readLoop relays each valid frame from one session to the user's others.
func (h *Hub) readLoop(userID string, conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeSession(userID, conn)

	for {
		typ, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		// Reject frames that are not todo_change envelopes; one bad frame
		// does not cost the sender its connection.
		if _, err := todo.DecodeEnvelope(data); err != nil {
			h.config.Logger.Printf("Dropping invalid frame from user %s: %v", userID, err)
			continue
		}

		h.relay(userID, conn, data)
	}
}

// relay forwards a frame to every connection in the user's room except the
// sender.
func (h *Hub) relay(userID string, sender *websocket.Conn, data []byte) {
	h.roomsMu.RLock()
	peers := make([]*websocket.Conn, 0, len(h.rooms[userID]))
	for conn := range h.rooms[userID] {
		if conn != sender {
			peers = append(peers, conn)
		}
	}
	h.roomsMu.RUnlock()

	for _, conn := range peers {
		ctx, cancel := context.WithTimeout(context.Background(), h.config.WriteTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.config.Logger.Printf("Failed to relay to session of user %s: %v", userID, err)
			h.removeSession(userID, conn)
		}
	}
}

// removeSession drops a connection from its room and closes it. A connection
// that is no longer registered (already removed, or swept by Stop) is left
// alone.
func (h *Hub) removeSession(userID string, conn *websocket.Conn) {
	h.roomsMu.Lock()
	room, ok := h.rooms[userID]
	if !ok {
		h.roomsMu.Unlock()
		return
	}
	if _, exists := room[conn]; !exists {
		h.roomsMu.Unlock()
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
	count := len(room)
	h.roomsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.config.Logger.Printf("Session left for user %s (total: %d)", userID, count)
}

// handleHealth returns hub health and per-user session counts.
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.roomsMu.RLock()
	sessions := 0
	users := len(h.rooms)
	for _, room := range h.rooms {
		sessions += len(room)
	}
	h.roomsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"users":    users,
		"sessions": sessions,
	})
}
