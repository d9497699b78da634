package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType represents the type of a client frame.
type MessageType string

const (
	// Client -> Server message types
	MessageTypePong MessageType = "pong"
	MessageTypePing MessageType = "ping"

	// Server -> Client reply to a client ping
	MessageTypeAlive MessageType = "alive"
)

// Message is a control frame exchanged with the client. Stream events are
// sent as their own JSON objects, not wrapped in a Message.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp float64     `json:"timestamp,omitempty"`
}

// Client represents a WebSocket client connection.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 64),
	}
}

// Send queues a frame for the client. A client that falls a full buffer
// behind is closed and Send reports false.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// Close stops accepting frames. Frames already queued are still written.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SessionID returns the session ID associated with this client.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub tracks open clients per session.
type Hub struct {
	sessions map[string]map[*Client]struct{}
	mu       sync.RWMutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client under its session.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[client.sessionID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.sessions[client.sessionID] = clients
	}
	clients[client] = struct{}{}
}

// Unregister removes a client and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if clients, ok := h.sessions[client.sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, client.sessionID)
		}
	}
	h.mu.Unlock()

	client.Close()
}

// ClientCount returns the number of open clients of a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Total returns the number of open clients across all sessions.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

// Close closes all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, clients := range sessions {
		for client := range clients {
			client.Close()
		}
	}
}
