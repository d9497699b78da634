package stream

import (
	"context"
	"fmt"

	"github.com/session-heartbeat/backend/internal/session"
)

// Heartbeat is the connectionless stream: counter-only messages on the stream
// cadence, with no session behind them. The counter starts at 0.
type Heartbeat struct {
	clock   session.Clock
	cfg     Config
	counter int64
}

// NewHeartbeat creates a heartbeat stream. A nil clock uses the system clock.
func NewHeartbeat(clock session.Clock, cfg Config) *Heartbeat {
	if clock == nil {
		clock = session.SystemClock
	}
	return &Heartbeat{clock: clock, cfg: cfg}
}

// Next returns the next heartbeat event.
func (h *Heartbeat) Next() Event {
	n := h.counter
	h.counter++
	return Event{
		Timestamp: Timestamp(h.clock.Now()),
		Counter:   &n,
		Message:   fmt.Sprintf("Server message #%d", n),
	}
}

// Run sends heartbeat events to sink until ctx is cancelled or the sink fails.
func (h *Heartbeat) Run(ctx context.Context, sink Sink) error {
	return run(ctx, h.cfg, sink, func(context.Context) ([]Event, bool) {
		return []Event{h.Next()}, false
	})
}
