package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-heartbeat/backend/internal/db"
	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/session"
)

var _ session.Gateway = (*SessionRepository)(nil)

func setupTestRepo(t *testing.T) (*SessionRepository, *sql.DB) {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })
	return NewSessionRepository(testDB), testDB
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	userID, err := repo.ResolveOrCreateUser(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, repo.CreateSessionRecord(ctx, "sess-1", &userID))

	rec, err := repo.GetSessionRecord(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.SessionID)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, userID, *rec.UserID)
	assert.True(t, rec.IsConnected)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateSessionActivity(ctx, "sess-1", ts))
	rec, err = repo.GetSessionRecord(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ts.Equal(rec.LastActivity))

	require.NoError(t, repo.MarkSessionDisconnected(ctx, "sess-1"))
	rec, err = repo.GetSessionRecord(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, rec.IsConnected)
}

func TestSessionRepository_AnonymousSession(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateSessionRecord(ctx, "anon", nil))
	rec, err := repo.GetSessionRecord(ctx, "anon")
	require.NoError(t, err)
	assert.Nil(t, rec.UserID)
}

func TestSessionRepository_GetMissing(t *testing.T) {
	repo, _ := setupTestRepo(t)

	_, err := repo.GetSessionRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestSessionRepository_AppendMessageIsIdempotent(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateSessionRecord(ctx, "sess-1", nil))
	require.NoError(t, repo.AppendMessage(ctx, "sess-1", 1, "first"))
	require.NoError(t, repo.AppendMessage(ctx, "sess-1", 2, "second"))
	require.NoError(t, repo.AppendMessage(ctx, "sess-1", 1, "duplicate"))

	msgs, err := repo.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].Counter)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, int64(2), msgs[1].Counter)
}

func TestSessionRepository_ResolveOrCreateUser(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	first, err := repo.ResolveOrCreateUser(ctx, "bob")
	require.NoError(t, err)
	again, err := repo.ResolveOrCreateUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := repo.ResolveOrCreateUser(ctx, "carol")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].Username)
	assert.Equal(t, "bob@example.com", users[0].Email)
	assert.True(t, users[0].IsActive)
}

func TestSessionRepository_Events(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	events, err := repo.ListEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	content := "hello"
	_, err = repo.CreateEvent(ctx, "launch", &content, "announcement")
	require.NoError(t, err)
	_, err = repo.CreateEvent(ctx, "silent", nil, "notice")
	require.NoError(t, err)

	events, err = repo.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].Content)
	assert.Equal(t, "hello", *events[0].Content)
	assert.Nil(t, events[1].Content)
}

func TestSessionRepository_ClosedDatabase(t *testing.T) {
	repo, testDB := setupTestRepo(t)
	require.NoError(t, testDB.Close())

	err := repo.CreateSessionRecord(context.Background(), "sess-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPersistence))

	_, err = repo.ResolveOrCreateUser(context.Background(), "alice")
	assert.True(t, errors.Is(err, model.ErrPersistence))
}

func TestStoreWithRepository(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	store := session.NewStore(repo, session.DefaultConfig())
	sess, err := store.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = store.ProduceMessage(ctx, sess.ID, func(c int64, u string) string { return u })
	require.NoError(t, err)

	msgs, err := repo.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Text)

	_, _, err = store.Remove(ctx, sess.ID)
	require.NoError(t, err)
	rec, err := repo.GetSessionRecord(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, rec.IsConnected)
}
