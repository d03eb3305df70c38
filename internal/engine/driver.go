// SPDX-License-Identifier: MIT

// Package engine implements the viewing-progress simulation and
// reconciliation loop: a per-item simulated playback cursor, jittered
// heartbeat emission, authoritative server-progress polling, stall detection
// with a replay-from-zero heuristic, and completion judged strictly on the
// server-credited watch length.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	xklog "github.com/wenhaoz/ykwatch/internal/log"
	"github.com/wenhaoz/ykwatch/internal/metrics"
	"github.com/wenhaoz/ykwatch/internal/telemetry"
	"github.com/wenhaoz/ykwatch/internal/yuketang"
)

// Telemetry is the slice of the platform client the engine consumes. All
// retry policy lives here in the engine; the client must not retry.
type Telemetry interface {
	LeafInfo(ctx context.Context, classroomID, videoID string) (yuketang.LeafMeta, error)
	WatchProgress(ctx context.Context, item yuketang.Item, userID int64) (yuketang.Progress, error)
	HeartbeatSender
}

// ItemResult classifies how the driver finished one item.
type ItemResult string

const (
	ResultCompleted  ItemResult = "completed"
	ResultSkipped    ItemResult = "skipped"    // coverage already at threshold
	ResultUnplayable ItemResult = "unplayable" // duration unresolvable; processed, not failed
	ResultAbandoned  ItemResult = "abandoned"  // init fetches or tick budget exhausted
)

// Report aggregates per-session item results.
type Report struct {
	Completed  int
	Skipped    int
	Unplayable int
	Abandoned  int
}

func (r *Report) add(res ItemResult) {
	switch res {
	case ResultCompleted:
		r.Completed++
	case ResultSkipped:
		r.Skipped++
	case ResultUnplayable:
		r.Unplayable++
	case ResultAbandoned:
		r.Abandoned++
	}
}

// Processed is the number of items the driver moved past, whatever the result.
func (r Report) Processed() int {
	return r.Completed + r.Skipped + r.Unplayable + r.Abandoned
}

// Status is a point-in-time snapshot for the observability listener.
type Status struct {
	SessionID   string  `json:"session_id"`
	CurrentItem string  `json:"current_item,omitempty"`
	Chapter     int     `json:"chapter,omitempty"`
	Coverage    float64 `json:"coverage"`
	Cursor      float64 `json:"cursor"`
	Duration    float64 `json:"duration"`
	Restarting  bool    `json:"restarting"`
	Ticks       int     `json:"ticks"`
	Report      Report  `json:"report"`
	Done        bool    `json:"done"`
}

// DriverConfig bounds the session driver and its per-item components.
type DriverConfig struct {
	Scheduler SchedulerConfig
	Tunables  Tunables

	// MaxTicksPerItem degrades a never-completing item to "abandoned" so one
	// item can never wedge the whole session. <=0 applies the default.
	MaxTicksPerItem int

	// InitAttempts / InitRetryPause bound the metadata and first-poll fetches.
	InitAttempts   int
	InitRetryPause time.Duration
}

// DefaultDriverConfig returns the production defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Scheduler:       DefaultSchedulerConfig(),
		Tunables:        DefaultTunables(),
		MaxTicksPerItem: 10000,
		InitAttempts:    3,
		InitRetryPause:  500 * time.Millisecond,
	}
}

// Driver iterates a collection of watchable items strictly sequentially,
// driving one fresh Reconciler/Scheduler pair per item to completion or
// abandonment. Nothing an individual item does is fatal to the session.
type Driver struct {
	client Telemetry
	cfg    DriverConfig

	newRand func() *rand.Rand
	sleep   SleepFunc
	now     func() time.Time

	mu     sync.Mutex
	status Status
}

// NewDriver builds a driver around the given client.
func NewDriver(client Telemetry, cfg DriverConfig) *Driver {
	def := DefaultDriverConfig()
	if cfg.MaxTicksPerItem <= 0 {
		cfg.MaxTicksPerItem = def.MaxTicksPerItem
	}
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = def.InitAttempts
	}
	if cfg.InitRetryPause <= 0 {
		cfg.InitRetryPause = def.InitRetryPause
	}
	return &Driver{
		client: client,
		cfg:    cfg,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter, not crypto
		},
		sleep: Sleep,
		now:   time.Now,
	}
}

// Status returns the current session snapshot. Safe for concurrent use.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) setStatus(mutate func(*Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mutate(&d.status)
}

// Run drives every item to completion or abandonment and returns the
// aggregated report. The only error it returns is context cancellation.
func (d *Driver) Run(ctx context.Context, items []yuketang.Item) (Report, error) {
	sessionID := uuid.NewString()
	ctx = xklog.ContextWithSessionID(ctx, sessionID)
	logger := xklog.WithComponentFromContext(ctx, "engine")

	d.setStatus(func(s *Status) { *s = Status{SessionID: sessionID} })

	var report Report
	logger.Info().
		Str("event", "session.start").
		Int("items", len(items)).
		Msg("starting watch session")

	for _, item := range items {
		ictx := xklog.ContextWithItemID(ctx, item.VideoID)

		res, err := d.processItem(ictx, item)
		if err != nil {
			d.setStatus(func(s *Status) { s.Report = report; s.Done = true })
			return report, err
		}
		report.add(res)
		metrics.RecordItemResult(string(res))
		d.setStatus(func(s *Status) { s.Report = report })
	}

	logger.Info().
		Str("event", "session.done").
		Int("completed", report.Completed).
		Int("skipped", report.Skipped).
		Int("unplayable", report.Unplayable).
		Int("abandoned", report.Abandoned).
		Msg("watch session finished")
	d.setStatus(func(s *Status) {
		s.Report = report
		s.CurrentItem = ""
		s.Done = true
	})
	return report, nil
}

// processItem drives one item. The returned error is non-nil only on context
// cancellation; every platform failure degrades to a result instead.
func (d *Driver) processItem(ctx context.Context, item yuketang.Item) (ItemResult, error) {
	logger := xklog.WithComponentFromContext(ctx, "engine")

	ctx, span := telemetry.Tracer("ykwatch/engine").Start(ctx, "watch_item")
	defer span.End()

	var meta yuketang.LeafMeta
	err := retryDo(ctx, d.cfg.InitAttempts, d.cfg.InitRetryPause, d.sleep, func() error {
		var ferr error
		meta, ferr = d.client.LeafInfo(ctx, item.ClassroomID, item.VideoID)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn().Err(err).
			Str("event", "item.metadata_unavailable").
			Msg("metadata fetch exhausted retries, abandoning item")
		return ResultAbandoned, nil
	}

	initial, err := d.client.WatchProgress(ctx, item, meta.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		metrics.RecordPoll(pollOutcome(err))
		logger.Warn().Err(err).
			Str("event", "item.initial_poll_failed").
			Msg("initial progress poll failed, assuming zero progress")
		initial = yuketang.Progress{}
	} else {
		metrics.RecordPoll(metrics.PollSuccess)
	}

	rec, err := NewReconciler(item, meta, initial, d.cfg.Tunables, d.newRand())
	if err != nil {
		if !errors.Is(err, ErrUnplayable) {
			return "", err
		}
		logger.Warn().
			Str("event", "item.unplayable").
			Float64(xklog.FieldDuration, meta.Duration).
			Msg("no usable duration, skipping item without heartbeats")
		span.SetAttributes(telemetry.ErrorAttributes("unplayable")...)
		return ResultUnplayable, nil
	}

	span.SetAttributes(telemetry.ItemAttributes(item.VideoID, item.ClassroomID, item.Chapter, rec.Duration())...)

	if IsComplete(rec.Watched(), rec.Duration()) {
		logger.Info().
			Str("event", "item.already_complete").
			Float64(xklog.FieldCoverage, rec.Coverage()).
			Msg("coverage already at threshold, skipping")
		return ResultSkipped, nil
	}

	sched := d.newScheduler()
	restarts := 0

	for tick := 1; ; tick++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if tick > d.cfg.MaxTicksPerItem {
			logger.Warn().
				Str("event", "item.abandoned").
				Int(xklog.FieldTick, tick-1).
				Float64(xklog.FieldCoverage, rec.Coverage()).
				Msg("tick budget exhausted, abandoning item")
			span.SetAttributes(telemetry.OutcomeAttributes(string(ResultAbandoned), rec.Coverage(), tick-1, restarts)...)
			return ResultAbandoned, nil
		}

		rec.Advance()

		if _, err := sched.Send(ctx, rec.Payload()); err != nil {
			return "", err
		}

		p, err := d.client.WatchProgress(ctx, item, meta.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			metrics.RecordPoll(pollOutcome(err))
			logger.Warn().Err(err).
				Str("event", "item.poll_failed").
				Int(xklog.FieldTick, tick).
				Msg("progress poll failed, continuing with previous state")
			continue
		}
		metrics.RecordPoll(metrics.PollSuccess)

		before := rec.Watched()
		rec.Observe(ctx, p)
		metrics.AddWatchCredited(rec.Watched() - before)
		metrics.SetCurrentCoverage(rec.Coverage())

		d.setStatus(func(s *Status) {
			s.CurrentItem = item.VideoID
			s.Chapter = item.Chapter
			s.Coverage = rec.Coverage()
			s.Cursor = rec.Cursor()
			s.Duration = rec.Duration()
			s.Restarting = rec.Restarting()
			s.Ticks = tick
		})

		logger.Debug().
			Str("event", "item.tick").
			Int(xklog.FieldTick, tick).
			Float64(xklog.FieldCursor, rec.Cursor()).
			Float64(xklog.FieldWatched, rec.Watched()).
			Float64(xklog.FieldCoverage, rec.Coverage()).
			Bool("restarting", rec.Restarting()).
			Msg("tick")

		if IsComplete(rec.Watched(), rec.Duration()) {
			logger.Info().
				Str("event", "item.complete").
				Int(xklog.FieldTick, tick).
				Float64(xklog.FieldCoverage, rec.Coverage()).
				Int("restarts", restarts).
				Msg("coverage threshold reached")
			span.SetAttributes(telemetry.OutcomeAttributes(string(ResultCompleted), rec.Coverage(), tick, restarts)...)
			return ResultCompleted, nil
		}

		if rec.MaybeRestart(ctx) {
			restarts++
		}
	}
}

// newScheduler builds a fresh scheduler sharing the driver's clock and sleep,
// so tests can drive everything off one fake time source.
func (d *Driver) newScheduler() *Scheduler {
	s := NewScheduler(d.client, d.cfg.Scheduler, d.newRand())
	s.sleep = d.sleep
	s.now = d.now
	return s
}

// pollOutcome distinguishes malformed responses from transport failures for
// metrics purposes.
func pollOutcome(err error) string {
	if errors.Is(err, yuketang.ErrBadResponse) {
		return metrics.PollMalformed
	}
	return metrics.PollError
}
