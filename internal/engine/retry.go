package engine

import (
	"context"
	"fmt"
	"time"
)

// SleepFunc suspends for d or until ctx is done. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryDo invokes fn up to attempts times with a fixed pause in between.
// Context cancellation wins over the retry budget and is returned as-is.
func retryDo(ctx context.Context, attempts int, pause time.Duration, sleep SleepFunc, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, pause); err != nil {
				return err
			}
		}
		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
