package probe

import (
	"context"
	"time"
)

// waitUntil polls cond every interval until it reports true, ctx ends, or
// timeout elapses. cond is checked once before the first sleep. The boolean
// result says whether cond was satisfied.
func waitUntil(ctx context.Context, timeout, interval time.Duration, cond func() (bool, error)) (bool, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := sleep(ctx, min(interval, remaining)); err != nil {
			return false, err
		}
	}
}

// sleep is time.Sleep that gives up when ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
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
