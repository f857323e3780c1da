// Package bounded runs calls that may block forever with a hard deadline.
//
// Native container lookups can stall on the network or on the cloud daemon.
// Call turns "hang forever" into "fail after d":
//
//	path, err := bounded.Call(ctx, 10*time.Second, func() (string, error) {
//	    return provider.ContainerPath(id)
//	})
//	if errors.Is(err, cloud.ErrTimeout) {
//	    // treat as unavailable
//	}
//
// A timed-out worker cannot be cancelled. It is abandoned and its result is
// dropped when it eventually finishes.
package bounded

import (
	"context"
	"fmt"
	"time"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// DefaultTimeout is the bound used for container resolution.
const DefaultTimeout = 10 * time.Second

// TimeoutError is returned when the bound elapses before the call returns.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %v", e.After)
}

// Unwrap lets errors.Is(err, cloud.ErrTimeout) match.
func (e *TimeoutError) Unwrap() error {
	return cloud.ErrTimeout
}

type result[T any] struct {
	val T
	err error
}

// Call runs op on its own goroutine and waits at most d for it.
//
// If op finishes first its value and error are returned unchanged. If d
// elapses first a *TimeoutError is returned. If ctx is done first ctx.Err()
// is returned. A non-positive d means DefaultTimeout.
func Call[T any](ctx context.Context, d time.Duration, op func() (T, error)) (T, error) {
	if d <= 0 {
		d = DefaultTimeout
	}

	// One slot so the worker's send never blocks after we stop listening.
	done := make(chan result[T], 1)

	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("bounded call panicked: %v", p)
			}
			done <- r
		}()
		r.val, r.err = op()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		return zero, &TimeoutError{After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
