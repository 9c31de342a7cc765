// Package ratelimit bounds outbound publish calls per platform within a
// rolling window. The counter lives in shared storage so every dispatcher
// instance sees the same window; a per-process rate.Limiter in front of it is
// only smoothing, never the authority.
package ratelimit

import (
	"context"
	"time"

	"postflow/internal/domain"
	"postflow/internal/store"
)

type Limiter struct {
	Store    store.RateStore
	Window   time.Duration
	Capacity map[string]int
	// used when a platform has no configured capacity
	DefaultCapacity int
	Now             func() time.Time
}

func (l *Limiter) capacityFor(p domain.Platform) int {
	if c, ok := l.Capacity[string(p)]; ok && c > 0 {
		return c
	}
	if l.DefaultCapacity > 0 {
		return l.DefaultCapacity
	}
	return 100
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// TryAcquire consumes one slot in the platform's current window. False means
// capacity is exhausted; the caller treats that as a retryable rate_limit
// outcome with a short backoff.
func (l *Limiter) TryAcquire(ctx context.Context, p domain.Platform) (bool, error) {
	allowed, _, err := l.Store.Acquire(ctx, string(p), l.Window, l.capacityFor(p), l.now())
	return allowed, err
}
