package gateway

import (
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wabridge/wabridge/internal/wire"
)

// Conn represents a single observer WebSocket connection. ID doubles as the
// connection's broadcaster subscription id.
type Conn struct {
	ID          string
	Client      string
	RemoteAddr  string
	WS          *websocket.Conn
	writeMu     sync.Mutex
	ConnectedAt time.Time
}

// Send writes a frame to the WebSocket connection (thread-safe).
func (c *Conn) Send(frame wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WS.WriteJSON(frame)
}

// ConnInfo is the public view of a connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	Client      string    `json:"client,omitempty"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConnManager tracks all active WebSocket connections.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // connID → conn
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn)}
}

// Add registers a new connection.
func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
}

// Remove unregisters a connection.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Get returns a connection by ID.
func (m *ConnManager) Get(connID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[connID]
}

// Count returns the number of connected clients.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// List returns every connection, oldest first.
func (m *ConnManager) List() []ConnInfo {
	m.mu.RLock()
	out := make([]ConnInfo, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, ConnInfo{ID: c.ID, Client: c.Client, RemoteAddr: c.RemoteAddr, ConnectedAt: c.ConnectedAt})
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b ConnInfo) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return out
}
