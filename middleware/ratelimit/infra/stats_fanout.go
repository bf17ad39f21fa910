package infra

import (
	"context"
	"errors"

	"healthcare-gateway/middleware/ratelimit/domain"
)

type fanoutStats []domain.StatsStore

// FanoutStats records every event into each non-nil store. It returns nil
// when no store is given.
func FanoutStats(stores ...domain.StatsStore) domain.StatsStore {
	var out fanoutStats
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (f fanoutStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
