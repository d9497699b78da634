package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultUsername is the display name used when a session is created without one.
const DefaultUsername = "Anonymous"

// MaxUsernameLength matches the users.username column width.
const MaxUsernameLength = 50

// Ping status labels carried on message events.
const (
	PingStatusPending = "pending"
	PingStatusOK      = "ok"
)

// Session is a read-only snapshot of a registered session.
// The live record is owned by the session store; mutating a snapshot has no effect.
type Session struct {
	ID             string
	UserID         *int64
	Username       string
	MessageCounter int64
	ConnectedAt    time.Time
	LastActivity   time.Time
	LastPing       time.Time
	PingPending    bool
	PingMissCount  int
}

// PingStatusLabel returns "pending" while a ping awaits acknowledgment, otherwise "ok".
func (s Session) PingStatusLabel() string {
	if s.PingPending {
		return PingStatusPending
	}
	return PingStatusOK
}

// Info projects the snapshot for status queries.
func (s Session) Info() SessionInfo {
	return SessionInfo{
		SessionID:      s.ID,
		Username:       s.Username,
		MessageCounter: s.MessageCounter,
		ConnectedAt:    s.ConnectedAt,
		LastActivity:   s.LastActivity,
		LastPing:       s.LastPing,
		PingPending:    s.PingPending,
		PingMissCount:  s.PingMissCount,
	}
}

// PingStatus projects the heartbeat state of the snapshot.
func (s Session) PingStatus() PingStatus {
	return PingStatus{
		SessionID:     s.ID,
		PingPending:   s.PingPending,
		LastPing:      s.LastPing,
		PingMissCount: s.PingMissCount,
		RequiresPong:  s.PingPending,
	}
}

// SessionInfo is the full status projection of a session.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	Username       string    `json:"username"`
	MessageCounter int64     `json:"message_counter"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
	LastPing       time.Time `json:"last_ping"`
	PingPending    bool      `json:"ping_pending"`
	PingMissCount  int       `json:"ping_miss_count"`
}

// PingStatus is the heartbeat projection of a session.
type PingStatus struct {
	SessionID     string    `json:"session_id"`
	PingPending   bool      `json:"ping_pending"`
	LastPing      time.Time `json:"last_ping"`
	PingMissCount int       `json:"ping_miss_count"`
	RequiresPong  bool      `json:"requires_pong"`
}

// NormalizeUsername trims the name and validates its length in characters.
// An empty result means the session is anonymous.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxUsernameLength {
		return "", ErrUsernameInvalid
	}
	return name, nil
}

// DisplayName returns name, or DefaultUsername when it is empty.
func DisplayName(name string) string {
	if name == "" {
		return DefaultUsername
	}
	return name
}
