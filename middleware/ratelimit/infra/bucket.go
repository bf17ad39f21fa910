package infra

import (
	"context"
	"sync"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// BucketStore is a token bucket per key (x/time/rate) with an idle sweep.
// A Rule of N requests per W becomes a refill rate of N/W with a burst of N,
// so a quiet client can spend its whole budget at once.
type BucketStore struct {
	mu           sync.Mutex
	entries      map[string]*bucketEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type BucketOption func(*BucketStore)

func WithIdleTTL(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) BucketOption {
	return func(s *BucketStore) { s.cleanupEvery = d }
}

func WithBucketClock(now func() time.Time) BucketOption {
	return func(s *BucketStore) { s.now = now }
}

func NewBucketStore(rps float64, burst int, opts ...BucketOption) *BucketStore {
	s := &BucketStore{
		entries:      make(map[string]*bucketEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBucketStoreForRule derives the refill rate and burst from rule.
func NewBucketStoreForRule(rule domain.Rule, opts ...BucketOption) *BucketStore {
	return NewBucketStore(float64(rule.Requests)/rule.Window.Seconds(), rule.Requests, opts...)
}

func (s *BucketStore) RPS() float64 { return float64(s.rps) }
func (s *BucketStore) Burst() int   { return s.burst }

// Admit implements domain.LimiterStore.
func (s *BucketStore) Admit(_ context.Context, key domain.Key) (domain.Decision, error) {
	now := s.now()
	lim := s.limiter(string(key), now)

	if lim.AllowN(now, 1) {
		return domain.Decision{
			Allowed:   true,
			Limit:     s.burst,
			Remaining: int(lim.TokensAt(now)),
		}, nil
	}

	var retry time.Duration
	if s.rps > 0 {
		missing := 1 - lim.TokensAt(now)
		retry = ceilSeconds(time.Duration(missing / float64(s.rps) * float64(time.Second)))
	}
	return domain.Decision{Allowed: false, Limit: s.burst, RetryAfter: retry}, nil
}

func (s *BucketStore) limiter(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *BucketStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor sweeps idle buckets periodically. Stop it by cancelling ctx.
func (s *BucketStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
