package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/session-heartbeat/backend/api/handlers"
	"github.com/session-heartbeat/backend/internal/config"
	"github.com/session-heartbeat/backend/internal/db"
	"github.com/session-heartbeat/backend/internal/liveness"
	"github.com/session-heartbeat/backend/internal/logger"
	"github.com/session-heartbeat/backend/internal/metrics"
	"github.com/session-heartbeat/backend/internal/repository"
	"github.com/session-heartbeat/backend/internal/session"
	"github.com/session-heartbeat/backend/internal/stream"
	"github.com/session-heartbeat/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Get configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.File = cfg.LogFile
	logCfg.Pretty = cfg.LogPretty
	appLogger, err := logger.New(logCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	defer appLogger.Close()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		appLogger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	// Initialize repository
	sessionRepo := repository.NewSessionRepository(database)

	m := metrics.New()

	// Initialize session store
	store := session.NewStore(sessionRepo, session.Config{
		PingInterval:  cfg.PingInterval,
		PingTimeout:   cfg.PingTimeout,
		MaxPingMisses: cfg.MaxPingMisses,
		Shards:        cfg.SessionShards,
		Metrics:       m,
	})
	m.RegisterActiveSessions(store.Count)

	// Start liveness loops
	scheduler := liveness.NewScheduler(store, liveness.Config{
		PingInterval:      cfg.PingInterval,
		SweepInterval:     cfg.SweepInterval,
		PingErrorBackoff:  cfg.PingErrorBackoff,
		SweepErrorBackoff: cfg.SweepErrorBackoff,
		Metrics:           m,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	streamCfg := stream.Config{Tick: cfg.StreamTick, Metrics: m}

	// Initialize WebSocket handling
	hub := ws.NewHub()
	defer hub.Close()
	m.RegisterWebSocketClients(hub.Total)

	wsHandler := ws.NewHandler(store, hub, streamCfg)
	wsHandler.SetAllowedOrigins(cfg.AllowedOrigins)

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.Dependencies{
		Store:     store,
		Scheduler: scheduler,
		Directory: sessionRepo,
		WebSocket: wsHandler,
		Stream:    streamCfg,
		Metrics:   m.Handler(),

		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("db_path", cfg.DBPath).
			Dur("ping_interval", cfg.PingInterval).
			Dur("ping_timeout", cfg.PingTimeout).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown did not complete cleanly")
	}
	return nil
}
