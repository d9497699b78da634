package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
	"github.com/session-heartbeat/backend/internal/ws"
)

// Dependencies are the components served by the router.
type Dependencies struct {
	Store     *session.Store
	Scheduler StatusReporter
	Directory Directory
	WebSocket *ws.Handler
	Stream    stream.Config
	Metrics   http.Handler

	// AllowedOrigins feeds the CORS middleware. Empty allows any origin.
	AllowedOrigins []string
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), CORS(deps.AllowedOrigins))

	NewStreamHandler(deps.Store, deps.Stream).RegisterRoutes(r)
	if deps.WebSocket != nil {
		NewWebSocketHandler(deps.WebSocket).RegisterRoutes(r)
	}
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api")
	{
		NewSessionHandler(deps.Store).RegisterRoutes(api)
		NewSystemHandler(deps.Store, deps.Scheduler).RegisterRoutes(api)
		if deps.Directory != nil {
			NewUserHandler(deps.Directory).RegisterRoutes(api)
		}
	}

	return r
}
