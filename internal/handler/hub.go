package handler

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const sendBuffer = 256

// Connection is one WebSocket client watching a thread.
type Connection struct {
	ID       string
	ThreadID string
	UserID   string

	ws     *websocket.Conn
	send   chan []byte
	closed bool
}

// Hub tracks WebSocket connections by thread so every client watching a
// thread sees the same turn.
type Hub struct {
	mu          sync.Mutex
	connections map[string]*Connection
	threads     map[string]map[string]*Connection
	logger      *logger.Logger
}

// NewHub creates a new Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		threads:     make(map[string]map[string]*Connection),
		logger:      log,
	}
}

// Register adds a connection for threadID.
func (h *Hub) Register(ws *websocket.Conn, threadID, userID string) *Connection {
	conn := &Connection{
		ID:       uuid.New().String(),
		ThreadID: threadID,
		UserID:   userID,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.connections[conn.ID] = conn
	if h.threads[threadID] == nil {
		h.threads[threadID] = make(map[string]*Connection)
	}
	h.threads[threadID][conn.ID] = conn
	h.mu.Unlock()

	metrics.IncrementConnections("websocket")
	h.logger.Debug("connection registered", zap.String("connection_id", conn.ID), zap.String("thread_id", threadID))
	return conn
}

// Unregister removes the connection and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(conn)
}

func (h *Hub) remove(conn *Connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	delete(h.connections, conn.ID)
	if peers := h.threads[conn.ThreadID]; peers != nil {
		delete(peers, conn.ID)
		if len(peers) == 0 {
			delete(h.threads, conn.ThreadID)
		}
	}
	close(conn.send)
	metrics.DecrementConnections("websocket")
	h.logger.Debug("connection unregistered", zap.String("connection_id", conn.ID))
}

// Broadcast sends v to every connection of a thread. A connection whose
// buffer is full is dropped.
func (h *Hub) Broadcast(threadID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.threads[threadID] {
		h.enqueue(conn, data)
	}
	return nil
}

// SendJSON sends v to one connection.
func (h *Hub) SendJSON(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !conn.closed {
		h.enqueue(conn, data)
	}
	return nil
}

func (h *Hub) enqueue(conn *Connection, data []byte) {
	select {
	case conn.send <- data:
	default:
		h.logger.Warn("connection buffer full, closing", zap.String("connection_id", conn.ID))
		h.remove(conn)
	}
}

// CloseAll closes every connection. Clients receive a normal close frame.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.connections {
		h.remove(conn)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// ThreadCount returns the number of threads with at least one connection.
func (h *Hub) ThreadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.threads)
}
