// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	xklog "github.com/wenhaoz/ykwatch/internal/log"
	"github.com/wenhaoz/ykwatch/internal/metrics"
	"github.com/wenhaoz/ykwatch/internal/yuketang"
)

// ErrUnplayable marks an item whose duration cannot be resolved. Such items
// are processed (skipped) rather than failed, and no heartbeats are sent.
var ErrUnplayable = errors.New("engine: item duration unresolvable")

// Phase is the reconciler's state machine phase.
type Phase string

const (
	PhaseNormal     Phase = "normal"
	PhaseRestarting Phase = "restarting"
)

// Tunables are the restart heuristic's thresholds. They are empirically
// chosen from observed platform behavior, not protocol guarantees.
type Tunables struct {
	// RestartRegressRatio: while restarting, a freshly polled watch value is
	// accepted as the new baseline only if it regressed below this fraction
	// of the pre-restart snapshot, or exceeds the previous watch value. This
	// guards against a stale cached read right after a reset.
	RestartRegressRatio float64

	// RestartExitRatio: once an accepted watch value drops below this
	// fraction of the duration, the server is taken to have genuinely
	// re-measured and the reconciler returns to the normal phase.
	RestartExitRatio float64
}

// DefaultTunables returns the observed-good thresholds.
func DefaultTunables() Tunables {
	return Tunables{RestartRegressRatio: 0.8, RestartExitRatio: 0.2}
}

// Reconciler owns the simulated playback state for one item and merges the
// server's authoritative watch record into it after every poll. One
// reconciler per item; it is not shared and not safe for concurrent use.
type Reconciler struct {
	item yuketang.Item
	meta yuketang.LeafMeta

	duration      float64
	watched       float64
	completedFlag bool

	cursor     float64 // simulated playback position, always <= duration
	rateFactor float64 // fixed playback speed multiplier in [0.9, 1.25]
	tsPointer  int64   // millisecond timestamp clock, never decreases
	phase      Phase

	preRestartWatched   float64
	restartLogged       bool
	inconsistencyLogged bool

	tun Tunables
	rng *rand.Rand
	now func() time.Time
}

// NewReconciler seeds the simulation from the item metadata and the first
// progress poll. When the metadata reports no duration, the poll's
// video_length is adopted; if the duration still cannot be resolved the item
// is ErrUnplayable.
func NewReconciler(item yuketang.Item, meta yuketang.LeafMeta, initial yuketang.Progress, tun Tunables, rng *rand.Rand) (*Reconciler, error) {
	duration := meta.Duration
	if duration <= 0 && initial.VideoLength > 0 {
		duration = initial.VideoLength
	}
	if duration <= 0 {
		return nil, ErrUnplayable
	}
	if tun.RestartRegressRatio <= 0 || tun.RestartExitRatio <= 0 {
		tun = DefaultTunables()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter, not crypto
	}

	r := &Reconciler{
		item:          item,
		meta:          meta,
		duration:      duration,
		watched:       initial.WatchLength,
		completedFlag: initial.Completed,
		rateFactor:    0.9 + rng.Float64()*0.35,
		phase:         PhaseNormal,
		tun:           tun,
		rng:           rng,
		now:           time.Now,
	}
	r.tsPointer = r.now().UnixMilli()
	r.cursor = r.seedCursor()
	return r, nil
}

// seedCursor starts from the server's watch record when one exists, else from
// a small randomized warm-up position modeling a natural start from zero.
func (r *Reconciler) seedCursor() float64 {
	if r.watched > 0 {
		return min(r.watched, r.duration)
	}
	upper := min(60, max(10, r.duration*0.1))
	seed := 5 + r.rng.Float64()*(upper-5)
	return min(seed, r.duration)
}

// Advance moves the simulated cursor by a random increment proportional to
// the duration and advances the timestamp clock by the corresponding
// playback-rate-adjusted wall time plus jitter.
func (r *Reconciler) Advance() {
	lo := max(2, r.duration*0.01)
	hi := max(5, r.duration*0.05)
	increment := lo + r.rng.Float64()*(hi-lo)

	r.cursor = min(r.duration, r.cursor+increment)
	elapsed := increment / r.rateFactor * 1000
	r.tsPointer += int64(elapsed) + 100 + r.rng.Int63n(401)
}

// Payload snapshots the current simulation state into a heartbeat record.
func (r *Reconciler) Payload() yuketang.HeartbeatPayload {
	return yuketang.NewHeartbeat(r.item, r.meta, r.duration, r.cursor, r.tsPointer, r.rng)
}

// Observe merges a polled server watch record into the simulation. The server
// is authoritative: in the normal phase its watch length is adopted whenever
// it exceeds the local value. While restarting, a new value is accepted only
// if it regressed below the configured fraction of the pre-restart snapshot
// or grew past the previous value; an accepted value below the exit fraction
// of the duration ends the restart.
func (r *Reconciler) Observe(ctx context.Context, p yuketang.Progress) {
	logger := xklog.WithComponentFromContext(ctx, "engine")

	r.completedFlag = p.Completed

	if r.phase == PhaseRestarting {
		accepted := p.WatchLength < r.preRestartWatched*r.tun.RestartRegressRatio ||
			p.WatchLength > r.watched
		if accepted {
			r.watched = p.WatchLength
			if r.watched < r.duration*r.tun.RestartExitRatio {
				r.phase = PhaseNormal
				logger.Info().
					Str("event", "item.restart_effective").
					Float64(xklog.FieldWatched, r.watched).
					Float64(xklog.FieldDuration, r.duration).
					Msg("server re-measured from the start, resuming normal playback")
			}
			r.cursor = min(r.duration, max(r.cursor, r.watched))
		}
	} else {
		if p.WatchLength > r.watched {
			r.watched = p.WatchLength
		}
		if p.WatchLength > r.cursor {
			r.cursor = min(r.duration, p.WatchLength)
		}
	}

	if r.completedFlag && !IsComplete(r.watched, r.duration) && !r.inconsistencyLogged {
		r.inconsistencyLogged = true
		metrics.RecordServerInconsistency()
		logger.Warn().
			Str("event", "item.flag_inconsistent").
			Float64(xklog.FieldCoverage, Coverage(r.watched, r.duration)).
			Msg("server marks item completed below coverage threshold, continuing")
	}
}

// MaybeRestart fires the stall transition: the simulated cursor has reached
// the full duration without the server crediting full coverage, so playback
// restarts from zero to coax additional credit. The transition is logged once
// per item to avoid flooding. Reports whether a restart was triggered.
func (r *Reconciler) MaybeRestart(ctx context.Context) bool {
	if r.cursor < r.duration || IsComplete(r.watched, r.duration) {
		return false
	}

	if !r.restartLogged {
		r.restartLogged = true
		logger := xklog.WithComponentFromContext(ctx, "engine")
		logger.Warn().
			Str("event", "item.restart").
			Str(xklog.FieldOldState, string(r.phase)).
			Str(xklog.FieldNewState, string(PhaseRestarting)).
			Float64(xklog.FieldCoverage, Coverage(r.watched, r.duration)).
			Msg("cursor exhausted below coverage threshold, replaying from zero")
	}
	metrics.RecordRestart()

	r.preRestartWatched = r.watched
	r.cursor = 0
	// Re-anchor the clock to wall time, but never let it run backwards: the
	// simulated clock is usually ahead of real time by this point.
	r.tsPointer = max(r.now().UnixMilli(), r.tsPointer)
	r.phase = PhaseRestarting
	return true
}

// Duration returns the resolved item duration in seconds.
func (r *Reconciler) Duration() float64 { return r.duration }

// Watched returns the server-credited watch time in seconds.
func (r *Reconciler) Watched() float64 { return r.watched }

// Cursor returns the simulated playback position in seconds.
func (r *Reconciler) Cursor() float64 { return r.cursor }

// Coverage returns the current server-credited coverage percentage.
func (r *Reconciler) Coverage() float64 { return Coverage(r.watched, r.duration) }

// Restarting reports whether the reconciler is in the restarting phase.
func (r *Reconciler) Restarting() bool { return r.phase == PhaseRestarting }

// TimestampPointer returns the heartbeat timestamp clock in milliseconds.
func (r *Reconciler) TimestampPointer() int64 { return r.tsPointer }
