package testutil

import (
	"context"
	"errors"
	"time"
)

// CancelResult reports how a function behaved under cancellation.
type CancelResult struct {
	Err          error
	WasCancelled bool
	Completed    bool
	Duration     time.Duration
}

// RunWithCancel runs fn with a context that is cancelled after cancelAfter,
// then waits up to timeout for fn to return. Completed is false when fn is
// still running at the deadline, which usually means it ignores its context.
func RunWithCancel(fn func(context.Context) error, cancelAfter, timeout time.Duration) CancelResult {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	time.Sleep(cancelAfter)
	cancel()

	select {
	case err := <-errCh:
		return CancelResult{
			Err:          err,
			WasCancelled: errors.Is(err, context.Canceled),
			Completed:    true,
			Duration:     time.Since(start),
		}
	case <-time.After(timeout):
		return CancelResult{Duration: time.Since(start)}
	}
}

// WaitForCondition polls condition until it returns true or timeout elapses.
func WaitForCondition(condition func() bool, pollInterval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}
