// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	xklog "github.com/wenhaoz/ykwatch/internal/log"
	"github.com/wenhaoz/ykwatch/internal/metrics"
	"github.com/wenhaoz/ykwatch/internal/yuketang"
)

// HeartbeatSender delivers one telemetry record. A (false, nil) return means
// the server rejected the report (non-2xx); the scheduler treats rejections
// and transport failures uniformly under its retry budget.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, hb yuketang.HeartbeatPayload) (bool, error)
}

// SchedulerConfig bounds heartbeat pacing and the per-send retry budget.
type SchedulerConfig struct {
	MinSpacing     time.Duration // floor between two sends
	MaxSpacing     time.Duration // spacing beyond which no jitter sleep is added
	SendAttempts   int           // attempts per heartbeat before the tick is abandoned
	SendRetryPause time.Duration // pause between attempts
}

// DefaultSchedulerConfig mirrors the web player's observed cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MinSpacing:     500 * time.Millisecond,
		MaxSpacing:     1500 * time.Millisecond,
		SendAttempts:   3,
		SendRetryPause: 500 * time.Millisecond,
	}
}

var errRejected = errors.New("engine: heartbeat rejected")

// Scheduler paces heartbeat emission with jittered, bounded-rate timing and
// bounded retries. It is independent of reconciliation: it neither reads nor
// writes simulation state.
type Scheduler struct {
	sender   HeartbeatSender
	cfg      SchedulerConfig
	limiter  *rate.Limiter
	rng      *rand.Rand
	sleep    SleepFunc
	now      func() time.Time
	lastSend time.Time
}

// NewScheduler builds a scheduler around the given sender. A nil rng gets a
// time-seeded one.
func NewScheduler(sender HeartbeatSender, cfg SchedulerConfig, rng *rand.Rand) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = def.MinSpacing
	}
	if cfg.MaxSpacing <= 0 {
		cfg.MaxSpacing = def.MaxSpacing
	}
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = def.SendAttempts
	}
	if cfg.SendRetryPause <= 0 {
		cfg.SendRetryPause = def.SendRetryPause
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter, not crypto
	}
	return &Scheduler{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
		rng:     rng,
		sleep:   Sleep,
		now:     time.Now,
	}
}

// Send paces, then attempts delivery within the retry budget. It reports
// whether the heartbeat was delivered; an exhausted budget abandons the tick
// (delivered == false) and never the item. The returned error is non-nil only
// on context cancellation.
func (s *Scheduler) Send(ctx context.Context, hb yuketang.HeartbeatPayload) (bool, error) {
	if err := s.pace(ctx); err != nil {
		return false, err
	}

	err := retryDo(ctx, s.cfg.SendAttempts, s.cfg.SendRetryPause, s.sleep, func() error {
		ok, err := s.sender.Heartbeat(ctx, hb)
		if err != nil {
			metrics.RecordHeartbeat(metrics.OutcomeFailed)
			return err
		}
		if !ok {
			metrics.RecordHeartbeat(metrics.OutcomeRejected)
			return errRejected
		}
		metrics.RecordHeartbeat(metrics.OutcomeDelivered)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		metrics.RecordHeartbeatExhausted()
		logger := xklog.WithComponentFromContext(ctx, "engine")
		logger.Warn().
			Err(err).
			Str("event", "heartbeat.exhausted").
			Int("attempts", s.cfg.SendAttempts).
			Msg("heartbeat retry budget exhausted, abandoning tick")
		return false, nil
	}

	s.lastSend = s.now()
	return true, nil
}

// pace enforces the spacing floor via the limiter and otherwise sleeps a
// jittered interval, so the emission signature is never perfectly periodic.
func (s *Scheduler) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if s.lastSend.IsZero() || s.now().Sub(s.lastSend) < s.cfg.MaxSpacing {
		return s.sleep(ctx, s.jitter())
	}
	return nil
}

// jitter returns 0.3–0.8s, with a 10% chance of an extended 0.5–1.5s pause.
func (s *Scheduler) jitter() time.Duration {
	ms := 300 + s.rng.Intn(501)
	if s.rng.Float64() < 0.1 {
		ms += 500 + s.rng.Intn(1001)
	}
	return time.Duration(ms) * time.Millisecond
}
