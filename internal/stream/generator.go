package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/session-heartbeat/backend/internal/metrics"
	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/session"
)

// DefaultTick is the interval between stream ticks.
const DefaultTick = 2 * time.Second

// Config holds configuration for event stream generators.
type Config struct {
	Tick    time.Duration
	Metrics *metrics.Metrics
}

func (c Config) tick() time.Duration {
	if c.Tick <= 0 {
		return DefaultTick
	}
	return c.Tick
}

// Generator produces the event stream of one session. It is not restartable:
// once a tick reports done, the stream is over.
type Generator struct {
	store     *session.Store
	sessionID string
	cfg       Config
	done      bool
}

// NewGenerator creates a generator for the session.
func NewGenerator(store *session.Store, sessionID string, cfg Config) *Generator {
	return &Generator{
		store:     store,
		sessionID: sessionID,
		cfg:       cfg,
	}
}

// StreamMessageText is the text of the n-th stream message for a user.
func StreamMessageText(counter int64, username string) string {
	return fmt.Sprintf("Stream message #%d for %s", counter, username)
}

// Tick runs one iteration of the stream and returns the events it produced.
// done is true when the last event is terminal. Any failure, including a
// panic, is reported as a single error event.
func (g *Generator) Tick(ctx context.Context) (events []Event, done bool) {
	if g.done {
		return nil, true
	}

	defer func() {
		if r := recover(); r != nil {
			events = []Event{g.errorEvent(errors.Newf("panic: %v", r))}
			done = true
		}
		if done {
			g.done = true
		}
	}()

	sess, ok := g.store.Get(g.sessionID)
	if !ok {
		return []Event{g.disconnectedEvent()}, true
	}

	msg, err := g.store.ProduceMessage(ctx, g.sessionID, StreamMessageText)
	if errors.Is(err, model.ErrSessionNotFound) {
		return []Event{g.disconnectedEvent()}, true
	}
	if err != nil {
		return []Event{g.errorEvent(err)}, true
	}

	events = append(events, Event{
		Type:          EventMessage,
		Timestamp:     Timestamp(msg.CreatedAt),
		SessionID:     g.sessionID,
		Username:      msg.Username,
		Counter:       lo.ToPtr(msg.Counter),
		Message:       msg.Text,
		PingStatus:    sess.PingStatusLabel(),
		PingMissCount: lo.ToPtr(sess.PingMissCount),
	})

	if sess.PingPending {
		events = append(events, Event{
			Type:      EventPingRequired,
			Timestamp: Timestamp(g.store.Now()),
			SessionID: g.sessionID,
			Message:   PingRequiredText,
		})
	}

	return events, false
}

// Run ticks at the configured cadence and sends every event to sink until the
// stream ends, ctx is cancelled or the sink fails. A cancelled context is a
// normal end and returns nil.
func (g *Generator) Run(ctx context.Context, sink Sink) error {
	logger := log.With().Str("session_id", g.sessionID).Logger()
	logger.Debug().Msg("Event stream opened")
	defer logger.Debug().Msg("Event stream closed")

	return run(ctx, g.cfg, sink, func(ctx context.Context) ([]Event, bool) {
		return g.Tick(ctx)
	})
}

func (g *Generator) disconnectedEvent() Event {
	return Event{
		Type:      EventSessionDisconnected,
		Timestamp: Timestamp(g.store.Now()),
		SessionID: g.sessionID,
		Message:   DisconnectedText,
	}
}

func (g *Generator) errorEvent(err error) Event {
	err = model.StreamError(err)
	log.Error().Err(err).Str("session_id", g.sessionID).Msg("Event stream failed")
	return Event{
		Type:      EventError,
		Timestamp: Timestamp(g.store.Now()),
		SessionID: g.sessionID,
		Message:   fmt.Sprintf("Stream error: %s", err),
	}
}

// run drives a tick function: emit, then wait one tick.
func run(ctx context.Context, cfg Config, sink Sink, tick func(context.Context) ([]Event, bool)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		events, done := tick(ctx)
		for _, ev := range events {
			if err := sink.Send(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "failed to send stream event")
			}
			cfg.Metrics.StreamEvent(ev.Label())
		}
		if done {
			return nil
		}

		timer.Reset(cfg.tick())
	}
}
