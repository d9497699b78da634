package model

import "github.com/cockroachdb/errors"

var (
	// ErrSessionNotFound is returned when an operation references an unknown or expired session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPersistence marks failures of the durable store.
	ErrPersistence = errors.New("persistence error")

	// ErrStream marks unexpected failures while producing stream events.
	ErrStream = errors.New("stream error")

	// ErrUsernameInvalid is returned when a username cannot be stored.
	ErrUsernameInvalid = errors.New("username is invalid")
)

// PersistenceError wraps a durable-store failure with context and marks it with ErrPersistence.
func PersistenceError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

// StreamError wraps an unexpected stream failure and marks it with ErrStream.
func StreamError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrStream)
}
