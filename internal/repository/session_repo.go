package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/session-heartbeat/backend/internal/model"
)

// SessionRecord is the durable row of a session.
type SessionRecord struct {
	SessionID    string
	UserID       *int64
	IsConnected  bool
	LastActivity time.Time
	CreatedAt    time.Time
}

// SessionRepository is the SQLite persistence gateway for sessions, messages and users.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSessionRecord inserts a connected session row.
func (r *SessionRepository) CreateSessionRecord(ctx context.Context, sessionID string, userID *int64) error {
	query := `
		INSERT INTO user_sessions (session_id, user_id, is_connected, last_activity, created_at)
		VALUES (?, ?, 1, ?, ?)
	`

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, sessionID, userID, now, now); err != nil {
		return model.PersistenceError(err, "failed to create session record")
	}
	return nil
}

// UpdateSessionActivity stores the last activity time of a session.
func (r *SessionRepository) UpdateSessionActivity(ctx context.Context, sessionID string, ts time.Time) error {
	query := `UPDATE user_sessions SET last_activity = ? WHERE session_id = ?`

	if _, err := r.db.ExecContext(ctx, query, ts.UTC(), sessionID); err != nil {
		return model.PersistenceError(err, "failed to update session activity")
	}
	return nil
}

// MarkSessionDisconnected flags the session row as disconnected.
func (r *SessionRepository) MarkSessionDisconnected(ctx context.Context, sessionID string) error {
	query := `UPDATE user_sessions SET is_connected = 0 WHERE session_id = ?`

	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return model.PersistenceError(err, "failed to mark session disconnected")
	}
	return nil
}

// AppendMessage stores a message row. A repeated (session, counter) pair is ignored.
func (r *SessionRepository) AppendMessage(ctx context.Context, sessionID string, counter int64, text string) error {
	query := `
		INSERT INTO user_messages (session_id, message_counter, message_content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, message_counter) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, sessionID, counter, text, time.Now().UTC()); err != nil {
		return model.PersistenceError(err, "failed to append message")
	}
	return nil
}

// GetSessionRecord retrieves a session row by its session ID.
func (r *SessionRepository) GetSessionRecord(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := `
		SELECT session_id, user_id, is_connected, last_activity, created_at
		FROM user_sessions
		WHERE session_id = ?
	`

	rec := &SessionRecord{}
	var userID sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.SessionID,
		&userID,
		&rec.IsConnected,
		&rec.LastActivity,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, model.PersistenceError(err, "failed to get session record")
	}

	if userID.Valid {
		id := userID.Int64
		rec.UserID = &id
	}

	return rec, nil
}

// ListMessages returns the stored messages of a session ordered by counter.
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	query := `
		SELECT session_id, message_counter, message_content, created_at
		FROM user_messages
		WHERE session_id = ?
		ORDER BY message_counter ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, model.PersistenceError(err, "failed to list messages")
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.SessionID, &msg.Counter, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, model.PersistenceError(err, "failed to scan message")
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, model.PersistenceError(err, "error iterating messages")
	}

	return messages, nil
}
