package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/session-heartbeat/backend/internal/db"
	"github.com/session-heartbeat/backend/internal/liveness"
	"github.com/session-heartbeat/backend/internal/metrics"
	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/repository"
	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
	"github.com/session-heartbeat/backend/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	store  *session.Store
	repo   *repository.SessionRepository
}

func setupTestEnv(t *testing.T, gateway session.Gateway) *testEnv {
	t.Helper()

	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })
	repo := repository.NewSessionRepository(testDB)
	if gateway == nil {
		gateway = repo
	}

	m := metrics.New()
	store := session.NewStore(gateway, session.Config{Metrics: m})
	m.RegisterActiveSessions(store.Count)
	streamCfg := stream.Config{Tick: 10 * time.Millisecond, Metrics: m}

	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	router := NewRouter(Dependencies{
		Store:     store,
		Scheduler: liveness.NewScheduler(store, liveness.Config{Metrics: m}),
		Directory: repo,
		WebSocket: ws.NewHandler(store, hub, streamCfg),
		Stream:    streamCfg,
		Metrics:   m.Handler(),
	})

	return &testEnv{router: router, store: store, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, username string) CreateSessionResponse {
	t.Helper()
	form := url.Values{"username": {username}}
	rec := e.do(t, http.MethodPost, "/api/session/create", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestSessionHandler_Create(t *testing.T) {
	env := setupTestEnv(t, nil)

	t.Run("form username", func(t *testing.T) {
		resp := env.create(t, "alice")
		assert.NotEmpty(t, resp.SessionID)
		assert.Equal(t, "alice", resp.Username)
		assert.Equal(t, "Session created successfully", resp.Message)
	})

	t.Run("json username", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/session/create", strings.NewReader(`{"username":"bob"}`), "application/json")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CreateSessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "bob", resp.Username)
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/session/create", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CreateSessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, model.DefaultUsername, resp.Username)
	})

	t.Run("overlong username", func(t *testing.T) {
		form := url.Values{"username": {strings.Repeat("x", 51)}}
		rec := env.do(t, http.MethodPost, "/api/session/create", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	})
}

// downGateway fails every durable write.
type downGateway struct {
	*session.MemoryGateway
}

func (g *downGateway) CreateSessionRecord(context.Context, string, *int64) error {
	return model.PersistenceError(errors.New("database is locked"), "create session record")
}

func TestSessionHandler_CreatePersistenceFailure(t *testing.T) {
	env := setupTestEnv(t, &downGateway{MemoryGateway: session.NewMemoryGateway()})

	rec := env.do(t, http.MethodPost, "/api/session/create", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "PERSISTENCE_ERROR", decodeError(t, rec).Code)
	assert.Equal(t, 0, env.store.Count())
}

func TestSessionHandler_Message(t *testing.T) {
	env := setupTestEnv(t, nil)
	sess := env.create(t, "alice")

	for want := int64(1); want <= 2; want++ {
		rec := env.do(t, http.MethodGet, "/api/session/"+sess.SessionID+"/message", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp MessageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, want, resp.Counter)
		assert.Equal(t, sess.SessionID, resp.SessionID)
		assert.Equal(t, "alice", resp.Username)
		assert.Contains(t, resp.Message, "alice")
		assert.Positive(t, resp.Timestamp)
	}

	msgs, err := env.repo.ListMessages(context.Background(), sess.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Message #2 for alice", msgs[1].Text)
}

func TestSessionHandler_NotFound(t *testing.T) {
	env := setupTestEnv(t, nil)

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/session/missing/message"},
		{http.MethodGet, "/api/session/missing/info"},
		{http.MethodGet, "/api/session/missing/ping"},
		{http.MethodPost, "/api/session/missing/pong"},
		{http.MethodDelete, "/api/session/missing"},
		{http.MethodGet, "/stream/missing"},
		{http.MethodGet, "/ws/stream/missing"},
	}

	for _, r := range requests {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			rec := env.do(t, r.method, r.path, nil, "")
			assert.Equal(t, http.StatusNotFound, rec.Code)

			detail := decodeError(t, rec)
			assert.Equal(t, "SESSION_NOT_FOUND", detail.Code)
			assert.Equal(t, "Session missing not found", detail.Message)
		})
	}
}

func TestSessionHandler_InfoAndPing(t *testing.T) {
	env := setupTestEnv(t, nil)
	sess := env.create(t, "carol")

	rec := env.do(t, http.MethodGet, "/api/session/"+sess.SessionID+"/info", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info SessionInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, sess.SessionID, info.SessionID)
	assert.Equal(t, "carol", info.Username)
	_, err := time.Parse(time.RFC3339, info.ConnectedAt)
	assert.NoError(t, err)

	require.True(t, env.store.MarkPingSent(sess.SessionID))

	rec = env.do(t, http.MethodGet, "/api/session/"+sess.SessionID+"/ping", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var ping PingStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ping))
	assert.True(t, ping.PingPending)
	assert.True(t, ping.RequiresPong)
	assert.Zero(t, ping.PingMissCount)

	rec = env.do(t, http.MethodPost, "/api/session/"+sess.SessionID+"/pong", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var pong PongResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pong))
	assert.Equal(t, "Pong received successfully", pong.Message)

	snap, ok := env.store.Get(sess.SessionID)
	require.True(t, ok)
	assert.False(t, snap.PingPending)
}

func TestSessionHandler_Delete(t *testing.T) {
	env := setupTestEnv(t, nil)
	sess := env.create(t, "dave")

	rec := env.do(t, http.MethodDelete, "/api/session/"+sess.SessionID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Session disconnected successfully"}`, rec.Body.String())

	record, err := env.repo.GetSessionRecord(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.False(t, record.IsConnected)

	rec = env.do(t, http.MethodDelete, "/api/session/"+sess.SessionID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// disconnectFailsGateway fails only the durable disconnect flag.
type disconnectFailsGateway struct {
	*session.MemoryGateway
}

func (g *disconnectFailsGateway) MarkSessionDisconnected(context.Context, string) error {
	return model.PersistenceError(errors.New("database is locked"), "mark disconnected")
}

func TestSessionHandler_DeleteWithStaleDurableRecord(t *testing.T) {
	env := setupTestEnv(t, &disconnectFailsGateway{MemoryGateway: session.NewMemoryGateway()})
	sess := env.create(t, "dave")

	rec := env.do(t, http.MethodDelete, "/api/session/"+sess.SessionID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Session disconnected successfully"}`, rec.Body.String())
	assert.Equal(t, 0, env.store.Count())

	rec = env.do(t, http.MethodDelete, "/api/session/"+sess.SessionID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.create(t, "erin")
	env.create(t, "")

	rec := env.do(t, http.MethodGet, "/api/sessions/active", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var active ActiveSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, 2, active.ActiveSessionsCount)

	rec = env.do(t, http.MethodGet, "/api/system/ping-status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status SystemPingStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.ActiveSessions)
	assert.Zero(t, status.SessionsNeedingPing)
	assert.False(t, status.BackgroundTasks.Running)
	assert.Equal(t, 20.0, status.BackgroundTasks.PingInterval)
	assert.Equal(t, 45.0, status.BackgroundTasks.PingTimeout)
	assert.Equal(t, 30.0, status.BackgroundTasks.SweepInterval)

	rec = env.do(t, http.MethodGet, "/api/system/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "timestamp")
}

func TestUserHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.create(t, "frank")
	env.create(t, "frank")
	env.create(t, "")

	content := "kickoff"
	_, err := env.repo.CreateEvent(context.Background(), "launch", &content, "announcement")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/users", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var users []UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "frank", users[0].Username)
	assert.Equal(t, "frank@example.com", users[0].Email)

	rec = env.do(t, http.MethodGet, "/api/events", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "launch", events[0].Title)
	require.NotNil(t, events[0].Content)
	assert.Equal(t, "kickoff", *events[0].Content)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.create(t, "gina")

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "heartbeat_sessions_created_total 1")
	assert.Contains(t, rec.Body.String(), "heartbeat_sessions_active 1")
}

// readEvent reads the next SSE frame from r.
func readEvent(t *testing.T, r *bufio.Reader) stream.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
		return ev
	}
}

func TestStreamHandler_Session(t *testing.T) {
	env := setupTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	sess := env.create(t, "henry")

	resp, err := http.Get(srv.URL + "/stream/" + sess.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, stream.EventMessage, first.Type)
	assert.Equal(t, "Stream message #1 for henry", first.Message)

	_, _, err = env.store.Remove(context.Background(), sess.SessionID)
	require.NoError(t, err)

	for {
		ev := readEvent(t, reader)
		if ev.Type == stream.EventSessionDisconnected {
			break
		}
		require.Equal(t, stream.EventMessage, ev.Type)
	}

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(rest)))
}

func TestStreamHandler_Heartbeat(t *testing.T) {
	env := setupTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for want := int64(0); want < 2; want++ {
		ev := readEvent(t, reader)
		assert.Empty(t, ev.Type)
		require.NotNil(t, ev.Counter)
		assert.Equal(t, want, *ev.Counter)
	}
}

func TestCORS(t *testing.T) {
	serve := func(origins []string, origin string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(CORS(origins))
		r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(nil, "https://any.example.com")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	allowed := []string{"https://app.example.com"}
	rec = serve(allowed, "https://app.example.com")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = serve(allowed, "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
