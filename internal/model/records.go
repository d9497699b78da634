package model

import "time"

// User is a durable user record.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a durable event record.
type Event struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   *string   `json:"content,omitempty"`
	EventType string    `json:"event_type"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a message produced for a session.
type Message struct {
	SessionID string
	Username  string
	Counter   int64
	Text      string
	CreatedAt time.Time
}
