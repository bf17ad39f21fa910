package domain

import (
	"context"
	"errors"
	"time"
)

// Key identifies a rate-limited client (network address, API key, ...).
type Key string

// ErrStoreUnavailable is returned by stores that depend on an external system
// which could not be reached.
var ErrStoreUnavailable = errors.New("ratelimit: store unavailable")

// Rule is the admission budget: at most Requests admissions in any trailing
// Window.
type Rule struct {
	Requests int
	Window   time.Duration
}

func (r Rule) Valid() bool { return r.Requests > 0 && r.Window > 0 }

// LimiterStore admits or rejects one request for key. Implementations own
// their per-key state and must be safe for concurrent use.
type LimiterStore interface {
	Admit(ctx context.Context, key Key) (Decision, error)
}

type Decision struct {
	Allowed bool
	Limit   int
	// Remaining is the number of admissions left in the current window after
	// this decision.
	Remaining int
	// RetryAfter is the Retry-After value to send on rejection. Zero means no
	// recommendation.
	RetryAfter time.Duration
}
