package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/session-heartbeat/backend/internal/model"
)

// ResolveOrCreateUser returns the ID of the user with the given name, creating it if needed.
func (r *SessionRepository) ResolveOrCreateUser(ctx context.Context, username string) (int64, error) {
	id, err := r.findUserID(ctx, username)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, model.PersistenceError(err, "failed to look up user")
	}

	insert := `
		INSERT INTO users (username, email, is_active, created_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (username) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, username, username+"@example.com", time.Now().UTC()); err != nil {
		return 0, model.PersistenceError(err, "failed to create user")
	}

	// A concurrent caller may have inserted the row first; read it back either way.
	id, err = r.findUserID(ctx, username)
	if err != nil {
		return 0, model.PersistenceError(err, "failed to read created user")
	}
	return id, nil
}

func (r *SessionRepository) findUserID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	return id, err
}

// ListUsers returns every stored user.
func (r *SessionRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	query := `SELECT id, username, email, is_active, created_at FROM users ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.PersistenceError(err, "failed to list users")
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, model.PersistenceError(err, "failed to scan user")
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, model.PersistenceError(err, "error iterating users")
	}

	return users, nil
}

// ListEvents returns every stored event.
func (r *SessionRepository) ListEvents(ctx context.Context) ([]model.Event, error) {
	query := `SELECT id, title, content, event_type, is_active, created_at FROM events ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.PersistenceError(err, "failed to list events")
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var e model.Event
		var content sql.NullString
		if err := rows.Scan(&e.ID, &e.Title, &content, &e.EventType, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, model.PersistenceError(err, "failed to scan event")
		}
		if content.Valid {
			c := content.String
			e.Content = &c
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, model.PersistenceError(err, "error iterating events")
	}

	return events, nil
}

// CreateEvent inserts an event row and returns its ID.
func (r *SessionRepository) CreateEvent(ctx context.Context, title string, content *string, eventType string) (int64, error) {
	query := `
		INSERT INTO events (title, content, event_type, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
	`

	result, err := r.db.ExecContext(ctx, query, title, content, eventType, time.Now().UTC())
	if err != nil {
		return 0, model.PersistenceError(err, "failed to create event")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, model.PersistenceError(err, "failed to get event id")
	}
	return id, nil
}
