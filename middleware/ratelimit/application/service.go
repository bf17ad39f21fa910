package application

import (
	"context"
	"fmt"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"
)

// Service applies the admission rule for one client key. It returns a
// decision and never talks HTTP.
type Service struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

// Decide admits or rejects one request for key. A store error is returned
// alongside an allowing decision; the caller decides whether to fail open.
func (s Service) Decide(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{Allowed: true}, nil
	}

	dec, err := s.Store.Admit(ctx, key)
	if err != nil {
		return domain.Decision{Allowed: true}, fmt.Errorf("admit %q: %w", key, err)
	}
	if dec.Allowed {
		dec.RetryAfter = 0
		return dec, nil
	}
	if dec.RetryAfter <= 0 {
		dec.RetryAfter = s.RetryAfter
	}
	if dec.RetryAfter <= 0 {
		dec.RetryAfter = 1 * time.Second
	}
	return dec, nil
}
