package domain

import "context"

// SlotPool bounds how many requests are in flight at once.
//
// Acquire blocks until a slot frees up or ctx ends. The release func it
// returns on success may be called more than once; only the first call frees
// the slot.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InUse reports the slots currently held.
	InUse() int
	Capacity() int
}
