package container

import (
	"context"
	"fmt"
	"time"

	"github.com/biblemarker/cloudsync/internal/cloud"
	"github.com/biblemarker/cloudsync/internal/cloud/bounded"
)

// Locator finds the container within a deadline. Every component that needs
// the container consumes this, never a bare Resolver.
type Locator interface {
	Locate(ctx context.Context) cloud.Availability
}

// LocatorFunc adapts a function to a Locator.
type LocatorFunc func(ctx context.Context) cloud.Availability

// Locate implements Locator.
func (f LocatorFunc) Locate(ctx context.Context) cloud.Availability {
	return f(ctx)
}

// resolver is anything that resolves synchronously, possibly blocking.
type resolver interface {
	Resolve() cloud.Availability
}

// Bounded runs a resolver through bounded.Call.
type Bounded struct {
	resolver resolver
	timeout  time.Duration
}

// NewBounded wraps r. A non-positive timeout means bounded.DefaultTimeout.
func NewBounded(r resolver, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = bounded.DefaultTimeout
	}
	return &Bounded{resolver: r, timeout: timeout}
}

// Timeout returns the configured bound.
func (b *Bounded) Timeout() time.Duration {
	return b.timeout
}

// Locate implements Locator. A timed-out resolution is reported as
// unavailable with cloud.ErrTimeout in its chain.
func (b *Bounded) Locate(ctx context.Context) cloud.Availability {
	a, err := bounded.Call(ctx, b.timeout, func() (cloud.Availability, error) {
		return b.resolver.Resolve(), nil
	})
	if err != nil {
		return cloud.Unavailable(fmt.Errorf("%w: resolving container: %w", cloud.ErrUnavailable, err))
	}
	return a
}
