package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"healthcare-gateway/apierr"
	"healthcare-gateway/middleware/correlation"
	"healthcare-gateway/middleware/ratelimit/application"
	"healthcare-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store domain.LimiterStore
	Stats domain.StatsStore
	KeyFn KeyFunc
	// KeyHeader, when set and present, keys clients by that header instead of
	// their address.
	KeyHeader           string
	TrustXForwardedFor  bool
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	// RouteLabel maps a request path to the route stats are counted under.
	// It must return a bounded set of values; correlation.ServiceLabel is
	// used when nil.
	RouteLabel func(path string) string
	Logger     *zap.Logger
}

// DefaultKeyFunc keys by header, then by the first X-Forwarded-For hop when
// trusted, then by the RemoteAddr host.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware rejects requests over budget with 429 and a Retry-After header.
// Store failures are logged and the request is admitted.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.RouteLabel == nil {
		opts.RouteLabel = correlation.ServiceLabel
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("ratelimit")

	svc := application.Service{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec, err := svc.Decide(r.Context(), domain.Key(key))
			if err != nil {
				log.Warn("rate limit store failed, admitting request",
					zap.String("client", key), zap.Error(err))
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     domain.Key(key),
					Allowed: dec.Allowed,
					Method:  r.Method,
					Route:   opts.RouteLabel(r.URL.Path),
					At:      time.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					log.Debug("rate limit stats not recorded", zap.Error(err))
				}
			}

			if opts.AddRateLimitHeaders && dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
			}

			if !dec.Allowed {
				w.Header().Set("Retry-After", formatInt(int(dec.RetryAfter.Seconds())))
				log.Info("rate limited", zap.String("client", key), zap.String("path", r.URL.Path))
				apierr.WriteKind(w, apierr.RateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
