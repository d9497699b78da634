// Package liveness runs the background heartbeat loops: ping dispatch and
// the inactivity sweep.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/session-heartbeat/backend/internal/metrics"
	"github.com/session-heartbeat/backend/internal/model"
	"github.com/session-heartbeat/backend/internal/session"
)

const (
	DefaultSweepInterval     = 30 * time.Second
	DefaultPingErrorBackoff  = 5 * time.Second
	DefaultSweepErrorBackoff = 10 * time.Second

	pingLoop  = "ping"
	sweepLoop = "sweep"
)

// Config holds configuration for the scheduler.
// A zero PingInterval falls back to the store's ping interval.
type Config struct {
	PingInterval      time.Duration
	SweepInterval     time.Duration
	PingErrorBackoff  time.Duration
	SweepErrorBackoff time.Duration
	Metrics           *metrics.Metrics
}

// Scheduler owns the two liveness loops over a session store.
type Scheduler struct {
	store   *session.Store
	cfg     Config
	metrics *metrics.Metrics

	running     atomic.Bool
	pingActive  atomic.Bool
	sweepActive atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler for store. The loops do not run until Start.
func NewScheduler(store *session.Store, cfg Config) *Scheduler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = store.Config().PingInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.PingErrorBackoff <= 0 {
		cfg.PingErrorBackoff = DefaultPingErrorBackoff
	}
	if cfg.SweepErrorBackoff <= 0 {
		cfg.SweepErrorBackoff = DefaultSweepErrorBackoff
	}

	return &Scheduler{
		store:   store,
		cfg:     cfg,
		metrics: cfg.Metrics,
	}
}

// Start launches both loops. Calling Start on a running scheduler does nothing.
// The loops also end when ctx is cancelled; Running then reports false.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.loop(loopCtx, &wg, pingLoop, s.cfg.PingInterval, backoff.NewConstantBackOff(s.cfg.PingErrorBackoff), &s.pingActive, func(ctx context.Context) error {
		_, err := s.DispatchPings(ctx)
		return err
	})
	go s.loop(loopCtx, &wg, sweepLoop, s.cfg.SweepInterval, backoff.NewConstantBackOff(s.cfg.SweepErrorBackoff), &s.sweepActive, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
	go func() {
		wg.Wait()
		s.running.Store(false)
		close(done)
	}()

	log.Info().
		Dur("ping_interval", s.cfg.PingInterval).
		Dur("sweep_interval", s.cfg.SweepInterval).
		Msg("Liveness scheduler started")
}

// Stop cancels both loops and blocks until each has exited.
// No iteration runs after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	log.Info().Msg("Liveness scheduler stopped")
}

// Status reports the loop flags and configured intervals.
func (s *Scheduler) Status() model.SchedulerStatus {
	return model.SchedulerStatus{
		Running:           s.running.Load(),
		PingTaskActive:    s.pingActive.Load(),
		CleanupTaskActive: s.sweepActive.Load(),
		PingInterval:      s.cfg.PingInterval.Seconds(),
		PingTimeout:       s.store.Config().PingTimeout.Seconds(),
		SweepInterval:     s.cfg.SweepInterval.Seconds(),
		Timestamp:         s.store.Now(),
	}
}

func (s *Scheduler) loop(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, b backoff.BackOff, active *atomic.Bool, iterate func(context.Context) error) {
	defer wg.Done()

	active.Store(true)
	defer active.Store(false)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := interval
		if err := runIteration(ctx, name, iterate); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.LoopFailure(name)
			wait = b.NextBackOff()
			log.Error().Err(err).
				Str("loop", name).
				Dur("retry_in", wait).
				Msg("Liveness loop iteration failed")
		} else {
			b.Reset()
		}

		timer.Reset(wait)
	}
}

// runIteration runs one loop body, converting a panic into an error.
func runIteration(ctx context.Context, name string, iterate func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in %s loop: %v", name, r)
		}
	}()
	return iterate(ctx)
}

// DispatchPings marks a ping as sent on every session that is due one.
// Delivery happens on the session's stream at its next tick.
func (s *Scheduler) DispatchPings(ctx context.Context) (int, error) {
	ids := s.store.SessionsNeedingPing()
	if len(ids) == 0 {
		return 0, nil
	}

	log.Info().Int("count", len(ids)).Msg("Sending ping to sessions")

	sent := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !s.store.MarkPingSent(id) {
			continue
		}
		sent++
		s.metrics.PingDispatched()
		log.Debug().Str("session_id", id).Msg("Ping sent")
	}
	return sent, nil
}

// Sweep counts ping misses, evicts sessions that reached the miss limit or
// went idle past the inactivity timeout, and returns the evictions.
// A session matching both conditions is evicted once, for the ping timeout.
// Each eviction re-checks its reason under the session lock, so a pong that
// lands mid-sweep keeps the session.
func (s *Scheduler) Sweep(ctx context.Context) ([]model.Eviction, error) {
	var marked []model.Eviction

	for _, id := range s.store.SessionsPastPingTimeout() {
		miss, ok := s.store.RegisterPingMiss(id)
		if !ok {
			continue
		}
		if miss.Evict {
			marked = append(marked, model.Eviction{SessionID: id, Reason: model.EvictionPingTimeout})
			continue
		}
		log.Warn().
			Str("session_id", id).
			Str("username", miss.Username).
			Int("ping_miss_count", miss.Count).
			Msg("Session missed ping")
	}

	for _, id := range s.store.SessionsPastInactivityTimeout() {
		marked = append(marked, model.Eviction{SessionID: id, Reason: model.EvictionInactivity})
	}

	marked = lo.UniqBy(marked, func(e model.Eviction) string {
		return e.SessionID
	})

	var errs error
	evicted := make([]model.Eviction, 0, len(marked))
	for _, e := range marked {
		if err := ctx.Err(); err != nil {
			return evicted, errors.CombineErrors(errs, err)
		}

		sess, ok, err := s.store.Evict(ctx, e.SessionID, e.Reason)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "evict session %s", e.SessionID))
		}
		if !ok {
			log.Debug().
				Str("session_id", e.SessionID).
				Str("reason", string(e.Reason)).
				Msg("Session recovered before eviction")
			continue
		}

		e.Username = sess.Username
		evicted = append(evicted, e)
		s.metrics.SessionEvicted(string(e.Reason))
		log.Info().
			Str("session_id", e.SessionID).
			Str("username", e.Username).
			Str("reason", string(e.Reason)).
			Msg("Session evicted")
	}

	return evicted, errs
}
