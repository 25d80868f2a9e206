package indexer

import (
	"context"
	"time"
)

// backoff describes how RPC calls are retried: up to retries extra
// attempts, starting at base and doubling to at most ceiling.
type backoff struct {
	retries int
	base    time.Duration
	ceiling time.Duration
}

func newBackoff(retries int, base time.Duration) backoff {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return backoff{retries: retries, base: base, ceiling: 30 * time.Second}
}

// delay returns the wait before retry number attempt (zero based).
func (b backoff) delay(attempt int) time.Duration {
	d := b.base
	for i := 0; i < attempt && d < b.ceiling; i++ {
		d *= 2
	}
	if d > b.ceiling {
		d = b.ceiling
	}
	return d
}

// retryCall runs fn until it succeeds, the attempts run out or ctx ends.
// onErr, when set, sees every failed attempt.
func retryCall[T any](ctx context.Context, b backoff, onErr func(attempt int, err error), fn func(context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if onErr != nil {
			onErr(attempt, err)
		}
		if attempt >= b.retries || ctx.Err() != nil {
			return v, err
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, ctx.Err()
		case <-timer.C:
		}
	}
}
