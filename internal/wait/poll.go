// Package wait holds the bounded polling primitive shared by every wait point
// that watches the page for an asynchronous change.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned (wrapped) by Poll when the deadline elapses before
// the condition holds.
var ErrTimeout = errors.New("wait: timed out")

// Condition reports whether the awaited state has been reached. An error is
// treated as "not yet"; the last one is attached to the timeout error.
type Condition func(ctx context.Context) (bool, error)

// Poll evaluates cond immediately and then every interval until it returns
// true, timeout elapses, or ctx is done. A non-positive timeout evaluates
// cond exactly once.
func Poll(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		ok, err := cond(ctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}
		if err := Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTimeout reports whether err came from an elapsed Poll deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
