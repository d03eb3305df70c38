// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenhaoz/ykwatch/internal/yuketang"
)

func testItem() yuketang.Item {
	return yuketang.Item{
		VideoID:     "18442",
		Title:       "Chapter 1 Lecture",
		ClassroomID: "19084046",
		CourseID:    9001,
		SKUID:       4001,
		Chapter:     1,
	}
}

func testMeta(duration float64) yuketang.LeafMeta {
	return yuketang.LeafMeta{
		LeafID:   18442,
		UserID:   777,
		CCID:     "cc-18442",
		Duration: duration,
	}
}

func newTestReconciler(t *testing.T, duration float64, initial yuketang.Progress, seed int64) *Reconciler {
	t.Helper()
	rec, err := NewReconciler(testItem(), testMeta(duration), initial, DefaultTunables(), rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return rec
}

func TestNewReconcilerUnplayable(t *testing.T) {
	_, err := NewReconciler(testItem(), testMeta(0), yuketang.Progress{}, DefaultTunables(), rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrUnplayable)

	_, err = NewReconciler(testItem(), testMeta(-1), yuketang.Progress{}, DefaultTunables(), rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrUnplayable)
}

func TestNewReconcilerAdoptsPolledVideoLength(t *testing.T) {
	rec := newTestReconciler(t, 0, yuketang.Progress{VideoLength: 480}, 1)
	assert.InDelta(t, 480, rec.Duration(), 1e-9)
}

func TestSeedCursorWarmUpBounds(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rec := newTestReconciler(t, 600, yuketang.Progress{}, seed)
		upper := min(60.0, max(10.0, 600*0.1))
		assert.GreaterOrEqual(t, rec.Cursor(), 5.0)
		assert.LessOrEqual(t, rec.Cursor(), upper)
	}
}

func TestSeedCursorShortVideoNeverOvershoots(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rec := newTestReconciler(t, 8, yuketang.Progress{}, seed)
		assert.LessOrEqual(t, rec.Cursor(), 8.0)
	}
}

func TestSeedCursorResumesFromServerRecord(t *testing.T) {
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 123.4}, 1)
	assert.InDelta(t, 123.4, rec.Cursor(), 1e-9)
	assert.InDelta(t, 123.4, rec.Watched(), 1e-9)
}

func TestRateFactorBounds(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rec := newTestReconciler(t, 600, yuketang.Progress{}, seed)
		assert.GreaterOrEqual(t, rec.rateFactor, 0.9)
		assert.LessOrEqual(t, rec.rateFactor, 1.25)
	}
}

func TestAdvanceIncrementBoundsAndClamp(t *testing.T) {
	rec := newTestReconciler(t, 600, yuketang.Progress{}, 7)
	lo := max(2.0, 600*0.01)
	hi := max(5.0, 600*0.05)

	for i := 0; i < 200; i++ {
		before := rec.Cursor()
		rec.Advance()
		after := rec.Cursor()
		assert.LessOrEqual(t, after, 600.0)
		if after < 600 {
			assert.GreaterOrEqual(t, after-before, lo)
			assert.LessOrEqual(t, after-before, hi)
		}
	}
	assert.InDelta(t, 600, rec.Cursor(), 1e-9, "cursor converges to the duration")
}

func TestAdvanceTimestampStrictlyIncreases(t *testing.T) {
	rec := newTestReconciler(t, 300, yuketang.Progress{}, 3)
	prev := rec.TimestampPointer()
	for i := 0; i < 100; i++ {
		rec.Advance()
		ts := rec.TimestampPointer()
		assert.Greater(t, ts, prev)
		prev = ts
	}
}

func TestObserveNormalPhaseAdoptsOnlyLargerValues(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 100}, 1)

	rec.Observe(ctx, yuketang.Progress{WatchLength: 150})
	assert.InDelta(t, 150, rec.Watched(), 1e-9)

	rec.Observe(ctx, yuketang.Progress{WatchLength: 90})
	assert.InDelta(t, 150, rec.Watched(), 1e-9, "server regression is ignored outside a restart")
}

func TestObserveRaisesCursorToServerValue(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 50}, 1)

	rec.Observe(ctx, yuketang.Progress{WatchLength: 400})
	assert.GreaterOrEqual(t, rec.Cursor(), 400.0)
	assert.LessOrEqual(t, rec.Cursor(), 600.0)
}

func TestMaybeRestartRequiresExhaustedCursor(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 550}, 1)

	assert.False(t, rec.MaybeRestart(ctx), "cursor below duration must not restart")

	rec.cursor = 600
	tsBefore := rec.TimestampPointer()
	assert.True(t, rec.MaybeRestart(ctx))
	assert.True(t, rec.Restarting())
	assert.InDelta(t, 0, rec.Cursor(), 1e-9)
	assert.InDelta(t, 550, rec.preRestartWatched, 1e-9)
	assert.GreaterOrEqual(t, rec.TimestampPointer(), tsBefore,
		"re-anchoring to wall time never rewinds the clock")
}

func TestRestartNeverRewindsTimestamp(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 550}, 1)
	rec.cursor = 600

	// A long session leaves the simulated clock well ahead of wall time.
	ahead := time.Now().Add(time.Hour).UnixMilli()
	rec.tsPointer = ahead

	require.True(t, rec.MaybeRestart(ctx))
	assert.Equal(t, ahead, rec.TimestampPointer())
}

func TestMaybeRestartNoopWhenComplete(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 600}, 1)
	rec.cursor = 600
	assert.False(t, rec.MaybeRestart(ctx))
}

func TestRestartLoggedOncePerItem(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 550}, 1)
	rec.cursor = 600
	require.True(t, rec.MaybeRestart(ctx))
	require.True(t, rec.restartLogged)

	// The server re-measures, the item climbs again and stalls a second time.
	rec.Observe(ctx, yuketang.Progress{WatchLength: 30})
	require.False(t, rec.Restarting())
	rec.cursor = 600

	assert.True(t, rec.MaybeRestart(ctx), "later stalls still trigger restarts")
	assert.True(t, rec.restartLogged, "but the transition is logged once per item")
}

func TestRestartingPhaseMergeRules(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 550}, 1)
	rec.cursor = 600
	require.True(t, rec.MaybeRestart(ctx))

	// A stale cached read (neither regressed below 0.8*550=440 nor above the
	// previous value) must be rejected.
	rec.Observe(ctx, yuketang.Progress{WatchLength: 500})
	assert.InDelta(t, 550, rec.Watched(), 1e-9)
	assert.True(t, rec.Restarting())

	// Growth past the previous value is accepted but does not end the
	// restart: the server has not re-measured from zero yet.
	rec.Observe(ctx, yuketang.Progress{WatchLength: 560})
	assert.InDelta(t, 560, rec.Watched(), 1e-9)
	assert.True(t, rec.Restarting())

	// A genuine re-measure below 0.2*600=120 ends the restart and the cursor
	// never lags the accepted value.
	rec.Observe(ctx, yuketang.Progress{WatchLength: 30})
	assert.InDelta(t, 30, rec.Watched(), 1e-9)
	assert.False(t, rec.Restarting())
	assert.GreaterOrEqual(t, rec.Cursor(), 30.0)
}

func TestRestartingAcceptedMidRangeStaysRestarting(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{WatchLength: 550}, 1)
	rec.cursor = 600
	require.True(t, rec.MaybeRestart(ctx))

	// Regressed below 0.8*550 but still above 0.2*600: accepted, phase holds.
	rec.Observe(ctx, yuketang.Progress{WatchLength: 200})
	assert.InDelta(t, 200, rec.Watched(), 1e-9)
	assert.True(t, rec.Restarting())
}

func TestObserveInconsistencyFlaggedOnce(t *testing.T) {
	ctx := context.Background()
	rec := newTestReconciler(t, 600, yuketang.Progress{}, 1)

	rec.Observe(ctx, yuketang.Progress{WatchLength: 300, Completed: true})
	assert.True(t, rec.inconsistencyLogged)
	assert.False(t, IsComplete(rec.Watched(), rec.Duration()),
		"the server completed flag is never trusted over the coverage computation")
}
