package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

var errClientClosed = errors.New("websocket client closed")

// Handler serves session event streams over WebSocket connections.
type Handler struct {
	store    *session.Store
	hub      *Hub
	cfg      stream.Config
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. It accepts any origin until
// SetAllowedOrigins restricts it.
func NewHandler(store *session.Store, hub *Hub, cfg stream.Config) *Handler {
	return &Handler{
		store: store,
		hub:   hub,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowAnyOrigin,
		},
	}
}

func allowAnyOrigin(*http.Request) bool { return true }

// SetAllowedOrigins limits upgrades to requests whose Origin header is in
// origins. Requests without an Origin header are not browser requests and are
// accepted. An empty list accepts any origin. Call it before serving.
func (h *Handler) SetAllowedOrigins(origins []string) {
	if len(origins) == 0 {
		h.upgrader.CheckOrigin = allowAnyOrigin
		return
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(origins, origin)
	}
}

// Hub returns the connection registry.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// HandleConnection upgrades the request and streams the session's events on
// the connection. It returns model.ErrSessionNotFound without upgrading when
// the session does not exist, so the caller can still answer with a 404.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	if _, ok := h.store.Get(sessionID); !ok {
		return model.ErrSessionNotFound
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "failed to upgrade connection")
	}

	client := NewClient(conn, sessionID)
	h.hub.Register(client)

	// The request context ends when the handler returns; the connection outlives it.
	ctx, cancel := context.WithCancel(context.Background())

	go h.writePump(client)
	go h.readPump(ctx, cancel, client)
	go h.runStream(ctx, cancel, client)

	log.Info().Str("session_id", sessionID).Msg("WebSocket stream opened")
	return nil
}

// runStream drives the session's generator until the stream ends or the
// connection goes away.
func (h *Handler) runStream(ctx context.Context, cancel context.CancelFunc, client *Client) {
	defer func() {
		cancel()
		h.hub.Unregister(client)
	}()

	sink := stream.SinkFunc(func(_ context.Context, event stream.Event) error {
		data, err := event.Marshal()
		if err != nil {
			return errors.Wrap(err, "failed to encode event")
		}
		if !client.Send(data) {
			return errClientClosed
		}
		return nil
	})

	err := stream.NewGenerator(h.store, client.SessionID(), h.cfg).Run(ctx, sink)
	if err != nil && !errors.Is(err, errClientClosed) {
		log.Warn().Err(err).Str("session_id", client.SessionID()).Msg("WebSocket stream ended with error")
	}
}

// handleMessage processes a frame received from the client.
func (h *Handler) handleMessage(ctx context.Context, client *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Str("session_id", client.SessionID()).Msg("Ignoring malformed client frame")
		return
	}

	switch msg.Type {
	case MessageTypePong:
		if !h.store.AcknowledgePong(ctx, client.SessionID()) {
			log.Debug().Str("session_id", client.SessionID()).Msg("Pong for unknown session")
		}
	case MessageTypePing:
		reply, err := json.Marshal(Message{
			Type:      MessageTypeAlive,
			SessionID: client.SessionID(),
			Timestamp: stream.Timestamp(h.store.Now()),
		})
		if err != nil {
			return
		}
		client.Send(reply)
	}
}

// readPump reads client frames until the connection fails.
func (h *Handler) readPump(ctx context.Context, cancel context.CancelFunc, client *Client) {
	defer func() {
		cancel()
		h.hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session_id", client.SessionID()).Msg("WebSocket read failed")
			}
			return
		}
		h.handleMessage(ctx, client, message)
	}
}

// writePump writes queued frames to the connection and keeps it alive with
// protocol pings. A closed queue ends the connection with a close frame.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// One event per frame so each frame is a complete JSON document.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
