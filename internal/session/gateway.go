package session

import (
	"context"
	"sync"
	"time"

	"github.com/session-heartbeat/backend/internal/model"
)

// Gateway is the durable store consulted by the session store.
// Implementations mark their failures with model.ErrPersistence.
type Gateway interface {
	ResolveOrCreateUser(ctx context.Context, username string) (int64, error)
	CreateSessionRecord(ctx context.Context, sessionID string, userID *int64) error
	UpdateSessionActivity(ctx context.Context, sessionID string, ts time.Time) error
	MarkSessionDisconnected(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, sessionID string, counter int64, text string) error
}

// MemoryGateway keeps durable records in process memory.
type MemoryGateway struct {
	mu       sync.Mutex
	nextUser int64
	users    map[string]int64
	sessions map[string]*MemorySessionRecord
	messages map[string]map[int64]string
}

// MemorySessionRecord is the in-memory form of a session row.
type MemorySessionRecord struct {
	UserID       *int64
	IsConnected  bool
	LastActivity time.Time
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		users:    make(map[string]int64),
		sessions: make(map[string]*MemorySessionRecord),
		messages: make(map[string]map[int64]string),
	}
}

func (g *MemoryGateway) ResolveOrCreateUser(_ context.Context, username string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.users[username]; ok {
		return id, nil
	}
	g.nextUser++
	g.users[username] = g.nextUser
	return g.nextUser, nil
}

func (g *MemoryGateway) CreateSessionRecord(_ context.Context, sessionID string, userID *int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sessions[sessionID] = &MemorySessionRecord{
		UserID:       userID,
		IsConnected:  true,
		LastActivity: time.Now(),
	}
	return nil
}

func (g *MemoryGateway) UpdateSessionActivity(_ context.Context, sessionID string, ts time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.sessions[sessionID]; ok {
		rec.LastActivity = ts
	}
	return nil
}

func (g *MemoryGateway) MarkSessionDisconnected(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.sessions[sessionID]; ok {
		rec.IsConnected = false
	}
	return nil
}

func (g *MemoryGateway) AppendMessage(_ context.Context, sessionID string, counter int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	msgs, ok := g.messages[sessionID]
	if !ok {
		msgs = make(map[int64]string)
		g.messages[sessionID] = msgs
	}
	if _, exists := msgs[counter]; !exists {
		msgs[counter] = text
	}
	return nil
}

// Session returns a copy of the stored session row.
func (g *MemoryGateway) Session(sessionID string) (MemorySessionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.sessions[sessionID]
	if !ok {
		return MemorySessionRecord{}, model.ErrSessionNotFound
	}
	return *rec, nil
}

// Messages returns the stored messages of a session keyed by counter.
func (g *MemoryGateway) Messages(sessionID string) map[int64]string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[int64]string, len(g.messages[sessionID]))
	for k, v := range g.messages[sessionID] {
		out[k] = v
	}
	return out
}
