package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"
)

type fakeStore struct {
	dec  domain.Decision
	err  error
	keys []domain.Key
}

func (s *fakeStore) Admit(_ context.Context, key domain.Key) (domain.Decision, error) {
	s.keys = append(s.keys, key)
	return s.dec, s.err
}

func TestService_Decide_AllowsWhenNoStore(t *testing.T) {
	svc := Service{}
	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_PassesKeyAndAllows(t *testing.T) {
	store := &fakeStore{dec: domain.Decision{Allowed: true, Limit: 5, Remaining: 4}}
	svc := Service{Store: store, RetryAfter: 5 * time.Second}

	dec, err := svc.Decide(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed || dec.Remaining != 4 {
		t.Fatalf("expected allowed with remaining=4, got %+v", dec)
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected no RetryAfter on allow, got %s", dec.RetryAfter)
	}
	if len(store.keys) != 1 || store.keys[0] != "10.0.0.1" {
		t.Fatalf("expected store to see key 10.0.0.1, got %v", store.keys)
	}
}

func TestService_Decide_BlocksWithRetryAfterDefault(t *testing.T) {
	svc := Service{Store: &fakeStore{dec: domain.Decision{Allowed: false}}}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_BlocksWithConfiguredRetryAfter(t *testing.T) {
	svc := Service{Store: &fakeStore{dec: domain.Decision{Allowed: false}}, RetryAfter: 2500 * time.Millisecond}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_PrefersStoreRetryAfter(t *testing.T) {
	svc := Service{Store: &fakeStore{dec: domain.Decision{Allowed: false, RetryAfter: 42 * time.Second}}, RetryAfter: time.Second}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.RetryAfter != 42*time.Second {
		t.Fatalf("expected store RetryAfter=42s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_StoreErrorFailsOpen(t *testing.T) {
	svc := Service{Store: &fakeStore{err: domain.ErrStoreUnavailable}}
	dec, err := svc.Decide(context.Background(), "k")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected the decision to allow when the store fails")
	}
}
