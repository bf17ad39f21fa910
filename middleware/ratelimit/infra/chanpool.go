package infra

import (
	"context"
	"sync"

	"healthcare-gateway/middleware/ratelimit/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool returns a buffered-channel semaphore holding max slots.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	// a cancelled ctx never takes a slot, even when one is free
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) InUse() int    { return len(p.sem) }
func (p *chanPool) Capacity() int { return cap(p.sem) }
