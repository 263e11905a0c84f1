// Package poll repeats a check at a fixed interval until it reports a terminal state.
package poll

import (
	"context"
	"time"

	"buildwait/internal/engine"
)

// Options bounds a polling loop. A zero MaxAttempts or MaxWait means no limit.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	MaxWait     time.Duration
}

// CheckFunc performs one poll. It returns done=true on a terminal state.
// Any error stops the loop immediately.
type CheckFunc func(ctx context.Context, attempt int) (done bool, err error)

// WaitFunc is called after each inconclusive poll, before sleeping
type WaitFunc func(attempt int)

// Until runs check immediately and then once per interval until it is done,
// it fails, ctx is cancelled, or a configured ceiling is reached. The ceiling
// is reported as *engine.PollTimeoutError labelled with phase.
func Until(ctx context.Context, phase string, opts Options, check CheckFunc, onWait WaitFunc) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		done, err := check(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return &engine.PollTimeoutError{Phase: phase, Attempts: attempt, Elapsed: time.Since(start)}
		}

		delay := opts.Interval
		if opts.MaxWait > 0 {
			remaining := opts.MaxWait - time.Since(start)
			if remaining <= 0 {
				return &engine.PollTimeoutError{Phase: phase, Attempts: attempt, Elapsed: time.Since(start)}
			}
			// One last poll exactly at the deadline
			if remaining < delay {
				delay = remaining
			}
		}

		if onWait != nil {
			onWait(attempt)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
