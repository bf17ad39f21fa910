package infra

import (
	"context"
	"sync"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"
)

// SlidingWindowStore is an in-memory sliding-window log: every client key
// keeps the timestamps of its admitted requests inside the trailing window.
//
// The map lock only guards lookup and insertion; the read-modify-write of a
// window happens under that window's own lock, so clients never contend with
// each other on admission.
//
// Windows are never dropped unless an idle TTL is configured, so a
// long-running process accumulates one entry per client address it has ever
// seen.
type SlidingWindowStore struct {
	mu      sync.Mutex
	windows map[string]*clientWindow

	rule         domain.Rule
	now          func() time.Time
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type clientWindow struct {
	mu       sync.Mutex
	hits     []time.Time
	lastSeen time.Time
	evicted  bool
}

type WindowOption func(*SlidingWindowStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) WindowOption {
	return func(s *SlidingWindowStore) { s.now = now }
}

// WithWindowIdleTTL enables dropping windows that saw no request for d.
// Values below the window length are raised to it so no live timestamp is
// ever discarded.
func WithWindowIdleTTL(d time.Duration) WindowOption {
	return func(s *SlidingWindowStore) { s.idleTTL = d }
}

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *SlidingWindowStore) { s.cleanupEvery = d }
}

func NewSlidingWindowStore(rule domain.Rule, opts ...WindowOption) *SlidingWindowStore {
	s := &SlidingWindowStore{
		windows:      make(map[string]*clientWindow),
		rule:         rule,
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL > 0 && s.idleTTL < rule.Window {
		s.idleTTL = rule.Window
	}
	return s
}

func (s *SlidingWindowStore) Rule() domain.Rule { return s.rule }

// Len reports how many client windows are tracked.
func (s *SlidingWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Admit implements domain.LimiterStore.
func (s *SlidingWindowStore) Admit(_ context.Context, key domain.Key) (domain.Decision, error) {
	for {
		w := s.window(string(key))
		now := s.now()

		w.mu.Lock()
		if w.evicted {
			// lost a race with Cleanup; the key now maps to a fresh window.
			w.mu.Unlock()
			continue
		}
		dec := s.admitLocked(w, now)
		w.mu.Unlock()
		return dec, nil
	}
}

func (s *SlidingWindowStore) admitLocked(w *clientWindow, now time.Time) domain.Decision {
	w.prune(now.Add(-s.rule.Window))
	w.lastSeen = now

	if len(w.hits) >= s.rule.Requests {
		return domain.Decision{
			Allowed:    false,
			Limit:      s.rule.Requests,
			Remaining:  0,
			RetryAfter: ceilSeconds(w.hits[0].Add(s.rule.Window).Sub(now)),
		}
	}

	w.hits = append(w.hits, now)
	return domain.Decision{
		Allowed:   true,
		Limit:     s.rule.Requests,
		Remaining: s.rule.Requests - len(w.hits),
	}
}

func (s *SlidingWindowStore) window(key string) *clientWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &clientWindow{}
		s.windows[key] = w
	}
	return w
}

// prune drops timestamps before cutoff. hits is ordered, so it stops at the
// first one still inside the window.
func (w *clientWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.hits, w.hits[i:])
	w.hits = w.hits[:n]
}

// Cleanup drops windows idle for longer than the idle TTL. It is a no-op when
// no TTL is configured.
func (s *SlidingWindowStore) Cleanup() {
	if s.idleTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, w := range s.windows {
		w.mu.Lock()
		if w.lastSeen.Before(cutoff) {
			w.evicted = true
			delete(s.windows, k)
		}
		w.mu.Unlock()
	}
}

// StartJanitor runs Cleanup periodically until ctx is done. Without an idle
// TTL it does nothing.
func (s *SlidingWindowStore) StartJanitor(ctx DoneContext) {
	if s.idleTTL <= 0 {
		return
	}
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
