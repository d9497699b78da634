// Package session implements the in-memory session registry.
package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/session-heartbeat/backend/internal/metrics"
	"github.com/session-heartbeat/backend/internal/model"
)

const (
	DefaultPingInterval  = 20 * time.Second
	DefaultPingTimeout   = 45 * time.Second
	DefaultMaxPingMisses = 3
	DefaultShards        = 32
)

// Config holds configuration for the session store.
type Config struct {
	PingInterval  time.Duration
	PingTimeout   time.Duration
	MaxPingMisses int
	Shards        int
	Clock         Clock
	Metrics       *metrics.Metrics
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval:  DefaultPingInterval,
		PingTimeout:   DefaultPingTimeout,
		MaxPingMisses: DefaultMaxPingMisses,
		Shards:        DefaultShards,
		Clock:         SystemClock,
	}
}

// InactivityTimeout is the idle time after which a session is evicted regardless of ping state.
func (c Config) InactivityTimeout() time.Duration {
	return 2 * c.PingTimeout
}

// record is the live, store-owned state of one session.
type record struct {
	id            string
	userID        *int64
	username      string
	counter       int64
	connectedAt   time.Time
	lastActivity  time.Time
	lastPing      time.Time
	pingPending   bool
	pingMissCount int
}

func (r *record) snapshot() model.Session {
	return model.Session{
		ID:             r.id,
		UserID:         r.userID,
		Username:       model.DisplayName(r.username),
		MessageCounter: r.counter,
		ConnectedAt:    r.connectedAt,
		LastActivity:   r.lastActivity,
		LastPing:       r.lastPing,
		PingPending:    r.pingPending,
		PingMissCount:  r.pingMissCount,
	}
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

// Store is a sharded registry of live sessions.
// Every mutation of a session happens under its shard lock, so operations on
// one session are linearizable while sessions in other shards proceed in parallel.
type Store struct {
	cfg     Config
	gateway Gateway
	clock   Clock
	metrics *metrics.Metrics
	shards  []*shard
}

// NewStore creates a new Store writing through to gateway.
func NewStore(gateway Gateway, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.MaxPingMisses <= 0 {
		cfg.MaxPingMisses = def.MaxPingMisses
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*record)}
	}

	return &Store{
		cfg:     cfg,
		gateway: gateway,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		shards:  shards,
	}
}

// Config returns the effective store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Create registers a new session. When username is non-empty the backing user
// is resolved or created first. Nothing is registered if a durable write fails.
func (s *Store) Create(ctx context.Context, username string) (model.Session, error) {
	name, err := model.NormalizeUsername(username)
	if err != nil {
		return model.Session{}, err
	}

	sessionID := uuid.NewString()

	var userID *int64
	if name != "" {
		id, err := s.gateway.ResolveOrCreateUser(ctx, name)
		if err != nil {
			s.metrics.PersistenceFailure("resolve_user")
			return model.Session{}, markPersistence(err, "failed to resolve user")
		}
		userID = &id
	}

	if err := s.gateway.CreateSessionRecord(ctx, sessionID, userID); err != nil {
		s.metrics.PersistenceFailure("create_session")
		return model.Session{}, markPersistence(err, "failed to create session record")
	}

	now := s.clock.Now()
	rec := &record{
		id:           sessionID,
		userID:       userID,
		username:     name,
		connectedAt:  now,
		lastActivity: now,
		lastPing:     now,
	}

	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	sh.sessions[sessionID] = rec
	snap := rec.snapshot()
	sh.mu.Unlock()

	s.metrics.SessionCreated()
	log.Info().
		Str("session_id", sessionID).
		Str("username", snap.Username).
		Msg("Session created")

	return snap, nil
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (model.Session, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return rec.snapshot(), true
}

// Info returns the status projection of the session.
func (s *Store) Info(id string) (model.SessionInfo, bool) {
	sess, ok := s.Get(id)
	if !ok {
		return model.SessionInfo{}, false
	}
	return sess.Info(), true
}

// TouchActivity sets the session's last activity to now and writes it through
// to the gateway. Write-through failures are logged, not returned.
func (s *Store) TouchActivity(ctx context.Context, id string) bool {
	now := s.clock.Now()

	sh := s.shardFor(id)
	sh.mu.Lock()
	rec, ok := sh.sessions[id]
	if ok {
		rec.lastActivity = now
	}
	sh.mu.Unlock()

	if !ok {
		return false
	}

	if err := s.gateway.UpdateSessionActivity(ctx, id, now); err != nil {
		s.metrics.PersistenceFailure("update_activity")
		log.Warn().Err(err).Str("session_id", id).Msg("Failed to write through session activity")
	}
	return true
}

// NextCounter increments and returns the session's message counter.
// A session that is already gone yields 1.
func (s *Store) NextCounter(id string) int64 {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.sessions[id]
	if !ok {
		return 1
	}
	rec.counter++
	return rec.counter
}

// RecordMessage persists a message row keyed by (session, counter).
func (s *Store) RecordMessage(ctx context.Context, id, content string, counter int64) error {
	if err := s.gateway.AppendMessage(ctx, id, counter, content); err != nil {
		s.metrics.PersistenceFailure("append_message")
		return markPersistence(err, "failed to append message")
	}
	return nil
}

// ProduceMessage runs one message-producing operation on the session: it
// touches activity, allocates the next counter and persists the text built by
// format. Persistence failures are logged; the message is still returned.
func (s *Store) ProduceMessage(ctx context.Context, id string, format func(counter int64, username string) string) (model.Message, error) {
	sess, ok := s.Get(id)
	if !ok {
		return model.Message{}, model.ErrSessionNotFound
	}

	s.TouchActivity(ctx, id)
	counter := s.NextCounter(id)
	text := format(counter, sess.Username)

	if err := s.RecordMessage(ctx, id, text, counter); err != nil {
		log.Warn().Err(err).
			Str("session_id", id).
			Int64("counter", counter).
			Msg("Failed to persist message")
	}

	return model.Message{
		SessionID: id,
		Username:  sess.Username,
		Counter:   counter,
		Text:      text,
		CreatedAt: s.clock.Now(),
	}, nil
}

// MarkPingSent records a dispatched ping.
func (s *Store) MarkPingSent(id string) bool {
	now := s.clock.Now()

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.sessions[id]
	if !ok {
		return false
	}
	rec.lastPing = now
	rec.pingPending = true
	return true
}

// HandlePong acknowledges the outstanding ping and resets the miss count.
func (s *Store) HandlePong(id string) bool {
	now := s.clock.Now()

	sh := s.shardFor(id)
	sh.mu.Lock()
	rec, ok := sh.sessions[id]
	if ok {
		rec.pingPending = false
		rec.pingMissCount = 0
		rec.lastActivity = now
	}
	sh.mu.Unlock()

	if ok {
		s.metrics.PongReceived()
	}
	return ok
}

// AcknowledgePong handles a pong and writes the refreshed activity through.
func (s *Store) AcknowledgePong(ctx context.Context, id string) bool {
	if !s.HandlePong(id) {
		return false
	}
	s.TouchActivity(ctx, id)
	return true
}

// PingMiss is the outcome of a ping timeout registered against a session.
type PingMiss struct {
	Username string
	Count    int
	Evict    bool
}

// RegisterPingMiss counts a timed-out ping. The pending flag and timeout are
// re-checked under the session lock, so a pong that lands first wins and the
// call reports false. Below the miss limit the pending flag is cleared so the
// next dispatch can send a fresh ping; at the limit it stays set until Evict
// or a pong resolves it.
func (s *Store) RegisterPingMiss(id string) (PingMiss, bool) {
	now := s.clock.Now()

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.sessions[id]
	if !ok || !rec.pingPending || now.Sub(rec.lastPing) <= s.cfg.PingTimeout {
		return PingMiss{}, false
	}

	rec.pingMissCount++
	miss := PingMiss{
		Username: model.DisplayName(rec.username),
		Count:    rec.pingMissCount,
		Evict:    rec.pingMissCount >= s.cfg.MaxPingMisses,
	}
	if !miss.Evict {
		rec.pingPending = false
	}
	return miss, true
}

// Remove deletes the session and marks its durable record disconnected.
// Removing an absent session is a no-op. The returned error only reports the
// durable write; the in-memory entry is gone either way.
func (s *Store) Remove(ctx context.Context, id string) (model.Session, bool, error) {
	return s.removeIf(ctx, id, func(*record) bool { return true })
}

// Evict removes the session only if reason still holds under the session
// lock. A pong or activity that lands after the sweep picked the session
// keeps it alive, and Evict reports false.
func (s *Store) Evict(ctx context.Context, id string, reason model.EvictionReason) (model.Session, bool, error) {
	now := s.clock.Now()
	return s.removeIf(ctx, id, func(r *record) bool {
		switch reason {
		case model.EvictionPingTimeout:
			return r.pingPending && r.pingMissCount >= s.cfg.MaxPingMisses
		case model.EvictionInactivity:
			return now.Sub(r.lastActivity) > s.cfg.InactivityTimeout()
		default:
			return false
		}
	})
}

func (s *Store) removeIf(ctx context.Context, id string, match func(r *record) bool) (model.Session, bool, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	rec, ok := sh.sessions[id]
	if ok && match(rec) {
		delete(sh.sessions, id)
	} else {
		ok = false
	}
	sh.mu.Unlock()

	if !ok {
		return model.Session{}, false, nil
	}

	snap := rec.snapshot()
	if err := s.gateway.MarkSessionDisconnected(ctx, id); err != nil {
		s.metrics.PersistenceFailure("mark_disconnected")
		return snap, true, markPersistence(err, "failed to mark session disconnected")
	}
	return snap, true, nil
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// SessionsNeedingPing lists sessions with no outstanding ping whose last ping
// is at least one ping interval old.
func (s *Store) SessionsNeedingPing() []string {
	now := s.clock.Now()
	return s.selectIDs(func(r *record) bool {
		return !r.pingPending && now.Sub(r.lastPing) >= s.cfg.PingInterval
	})
}

// SessionsPastPingTimeout lists sessions whose outstanding ping is older than the ping timeout.
func (s *Store) SessionsPastPingTimeout() []string {
	now := s.clock.Now()
	return s.selectIDs(func(r *record) bool {
		return r.pingPending && now.Sub(r.lastPing) > s.cfg.PingTimeout
	})
}

// SessionsPastInactivityTimeout lists sessions idle for longer than the inactivity timeout.
func (s *Store) SessionsPastInactivityTimeout() []string {
	now := s.clock.Now()
	limit := s.cfg.InactivityTimeout()
	return s.selectIDs(func(r *record) bool {
		return now.Sub(r.lastActivity) > limit
	})
}

func (s *Store) selectIDs(match func(r *record) bool) []string {
	var ids []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id, rec := range sh.sessions {
			if match(rec) {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	return ids
}

func markPersistence(err error, op string) error {
	if errors.Is(err, model.ErrPersistence) {
		return errors.Wrap(err, op)
	}
	return model.PersistenceError(err, op)
}
