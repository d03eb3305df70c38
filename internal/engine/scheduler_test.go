// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenhaoz/ykwatch/internal/yuketang"
)

// scriptedSender replays a fixed sequence of heartbeat outcomes.
type scriptedSender struct {
	script []error // nil = delivered, errRejectedByServer = non-2xx, other = transport failure
	calls  int
}

var errRejectedByServer = errors.New("rejected")

func (s *scriptedSender) Heartbeat(_ context.Context, _ yuketang.HeartbeatPayload) (bool, error) {
	var out error
	if s.calls < len(s.script) {
		out = s.script[s.calls]
	}
	s.calls++
	switch {
	case out == nil:
		return true, nil
	case errors.Is(out, errRejectedByServer):
		return false, nil
	default:
		return false, out
	}
}

func newTestScheduler(sender HeartbeatSender) *Scheduler {
	s := NewScheduler(sender, SchedulerConfig{
		MinSpacing:     time.Millisecond,
		MaxSpacing:     2 * time.Millisecond,
		SendAttempts:   3,
		SendRetryPause: time.Millisecond,
	}, rand.New(rand.NewSource(1)))
	s.sleep = noSleep
	return s
}

func TestSendDelivers(t *testing.T) {
	sender := &scriptedSender{script: []error{nil}}
	s := newTestScheduler(sender)

	ok, err := s.Send(context.Background(), yuketang.HeartbeatPayload{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, sender.calls)
	assert.False(t, s.lastSend.IsZero())
}

func TestSendRetriesTransportFailures(t *testing.T) {
	boom := errors.New("connection reset")
	sender := &scriptedSender{script: []error{boom, boom, nil}}
	s := newTestScheduler(sender)

	ok, err := s.Send(context.Background(), yuketang.HeartbeatPayload{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, sender.calls)
}

func TestSendExhaustionAbandonsTickNotItem(t *testing.T) {
	boom := errors.New("connection reset")
	sender := &scriptedSender{script: []error{boom, boom, boom, nil}}
	s := newTestScheduler(sender)

	ok, err := s.Send(context.Background(), yuketang.HeartbeatPayload{})
	require.NoError(t, err, "an exhausted budget is not an error")
	assert.False(t, ok)
	assert.Equal(t, 3, sender.calls, "exactly the configured attempts")
}

func TestSendServerRejectionCountsAgainstBudget(t *testing.T) {
	sender := &scriptedSender{script: []error{errRejectedByServer, errRejectedByServer, errRejectedByServer}}
	s := newTestScheduler(sender)

	ok, err := s.Send(context.Background(), yuketang.HeartbeatPayload{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, sender.calls)
}

func TestSendReturnsCancelError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestScheduler(&scriptedSender{})

	_, err := s.Send(ctx, yuketang.HeartbeatPayload{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJitterBounds(t *testing.T) {
	s := newTestScheduler(&scriptedSender{})
	sawExtended := false
	for i := 0; i < 2000; i++ {
		d := s.jitter()
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 2301*time.Millisecond)
		if d > 800*time.Millisecond {
			sawExtended = true
		}
	}
	assert.True(t, sawExtended, "the occasional extended pause must occur")
}

func TestPaceSkipsJitterAfterLongGap(t *testing.T) {
	s := newTestScheduler(&scriptedSender{})
	slept := 0
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		slept++
		return ctx.Err()
	}

	base := time.Now()
	s.lastSend = base.Add(-time.Minute)
	s.now = func() time.Time { return base }

	require.NoError(t, s.pace(context.Background()))
	assert.Zero(t, slept, "no jitter sleep when natural spacing already exceeds the maximum")
}
