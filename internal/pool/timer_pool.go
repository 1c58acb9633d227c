// Package pool keeps reusable timers for the printer host's per-command waits.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Receive when the wait expires.
var ErrTimeout = errors.New("pool: wait timed out")

var timerPool sync.Pool

// GetTimer returns a timer for the given duration d from the pool.
//
// Return back the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		// since go 1.23 Reset leaves no stale value in t.C
		t.Reset(d)

		return t
	}

	return time.NewTimer(d)
}

// PutTimer returns timer to the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	t.Stop()
	timerPool.Put(t)
}

// Receive waits up to d for a value from ch. It returns ErrTimeout when d
// elapses first, and the context error when ctx is done first.
func Receive[T any](ctx context.Context, ch <-chan T, d time.Duration) (T, error) {
	var zero T

	timer := GetTimer(d)
	defer PutTimer(timer)

	select {
	case v, ok := <-ch:
		if !ok {
			return zero, errors.New("pool: channel closed")
		}
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
