package ratelimit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"
	"healthcare-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	store := infra.NewSlidingWindowStore(domain.Rule{Requests: 1, Window: time.Minute})

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Store:               store,
		AddRateLimitHeaders: true,
	})(next)

	r1 := httptest.NewRequest(http.MethodGet, "http://example/api/v1/providers", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}

	// same address, different port: same client
	r2 := httptest.NewRequest(http.MethodGet, "http://example/api/v1/providers", nil)
	r2.RemoteAddr = "10.0.0.1:9999"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Detail != "Rate limit exceeded" {
		t.Fatalf("unexpected detail %q", body.Detail)
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_NPlusOneWithinWindowRejected(t *testing.T) {
	const limit = 5
	store := infra.NewSlidingWindowStore(domain.Rule{Requests: limit, Window: time.Minute})
	h := Middleware(Options{Store: store})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 1; i <= limit+1; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "192.168.1.7:4000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		want := http.StatusOK
		if i == limit+1 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, w.Code)
		}
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	store := infra.NewSlidingWindowStore(domain.Rule{Requests: 1, Window: time.Minute})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Store:     store,
		KeyHeader: "X-Api-Key",
	})(next)

	// two keys behind one address each get their own window
	for _, key := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", key)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", key, w.Code)
		}
	}
}

type rejectingStore struct{ retry time.Duration }

func (s rejectingStore) Admit(_ context.Context, _ domain.Key) (domain.Decision, error) {
	return domain.Decision{Allowed: false, RetryAfter: s.retry}, nil
}

func TestMiddleware_RetryAfterUsesSeconds(t *testing.T) {
	h := Middleware(Options{
		Store: rejectingStore{},
		// no recommendation from the store, fall back to the configured value
		RetryAfter: 2500 * time.Millisecond,
	})(http.NotFoundHandler())

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Header().Get("Retry-After")); got != "2" {
		// int(2.5s.Seconds()) == 2
		t.Fatalf("expected Retry-After=2, got %q", got)
	}
}

func TestMiddleware_StoreFailureFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	mr.Close()

	store := infra.NewRedisWindowStore(rdb, domain.Rule{Requests: 1, Window: time.Minute})
	h := Middleware(Options{Store: store})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected the request to pass when Redis is down, got %d", w.Code)
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	store := infra.NewSlidingWindowStore(domain.Rule{Requests: 1, Window: time.Minute})
	h := Middleware(Options{Store: store, Stats: stats})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/api/v1/billing", nil)
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	got := stats.ByRoute()["GET billing"]
	if got.Allowed != 1 || got.Denied != 2 {
		t.Fatalf("expected 1 allowed / 2 denied, got %+v", got)
	}
}

func TestMiddleware_StatsRouteIgnoresIDsInPath(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	mem := infra.NewMemoryStatsStore()
	stats := infra.FanoutStats(mem, infra.NewRedisStatsStore(rdb, infra.WithStatsBucket("none")))
	store := infra.NewSlidingWindowStore(domain.Rule{Requests: 100, Window: time.Minute})
	h := Middleware(Options{Store: store, Stats: stats})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, path := range []string{"/api/v1/patients/17", "/api/v1/patients/42/records", "/health"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example"+path, nil))
	}

	byRoute := mem.ByRoute()
	if len(byRoute) != 2 || byRoute["GET patients"].Allowed != 2 || byRoute["GET gateway"].Allowed != 1 {
		t.Fatalf("expected patients and gateway buckets only, got %+v", byRoute)
	}
	if got := mr.HGet("ratelimit:stats:route", "GET patients:allowed"); got != "2" {
		t.Fatalf("expected both patient ids under one redis field, got %q", got)
	}
	if fields, _ := mr.HKeys("ratelimit:stats:route"); len(fields) != 2 {
		t.Fatalf("expected 2 route fields, got %v", fields)
	}
}

func TestMiddleware_StatsUseCustomRouteLabel(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	store := infra.NewSlidingWindowStore(domain.Rule{Requests: 100, Window: time.Minute})
	h := Middleware(Options{
		Store:      store,
		Stats:      stats,
		RouteLabel: func(string) string { return "unknown" },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "http://example/api/v1/labs/1", nil))

	if got := stats.ByRoute()["POST unknown"]; got.Allowed != 1 {
		t.Fatalf("expected the custom label, got %+v", stats.ByRoute())
	}
}
