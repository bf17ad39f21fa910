package application

import (
	"context"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService hands out in-flight slots for the proxy routes. It knows
// nothing about HTTP.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// AcquireTimeout <= 0 waits as long as the caller's ctx allows.
	AcquireTimeout time.Duration
}

// Acquire returns a release func and true when a slot was taken. Without a
// pool every call succeeds.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	return s.Pool.Acquire(ctx)
}

// InUse reports held slots, 0 without a pool.
func (s ConcurrencyService) InUse() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
