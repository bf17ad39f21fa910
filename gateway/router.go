// Package gateway assembles the request pipeline: preflight, recovery,
// correlation and logging, rate limiting, authentication, authorization and
// finally dispatch.
package gateway

import (
	"net/http"

	"healthcare-gateway/apierr"
	"healthcare-gateway/health"
	"healthcare-gateway/metrics"
	"healthcare-gateway/middleware/auth"
	"healthcare-gateway/middleware/correlation"
	"healthcare-gateway/middleware/ratelimit"
	"healthcare-gateway/proxy"
	"healthcare-gateway/wsrelay"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Options struct {
	ServiceName string
	Logger      *zap.Logger
	// Metrics, when set, records every request and serves /metrics.
	Metrics  *metrics.Collector
	Verifier auth.TokenVerifier
	// RateLimit nil disables rate limiting.
	RateLimit   *ratelimit.Options
	Concurrency ratelimit.ConcurrencyOptions

	Dispatcher *proxy.Dispatcher
	Health     *health.Checker
	Relay      *wsrelay.Relay
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	label := labeler(opts.Dispatcher)

	r := chi.NewRouter()
	r.Use(
		correlation.Preflight,
		correlation.Recover(log),
		correlation.Middleware(correlation.Options{
			Logger:  log.Named("http"),
			Service: opts.ServiceName,
			Metrics: opts.Metrics,
			Label:   label,
		}),
	)
	if opts.RateLimit != nil {
		rl := *opts.RateLimit
		if rl.Logger == nil {
			rl.Logger = log
		}
		if rl.RouteLabel == nil {
			rl.RouteLabel = label
		}
		r.Use(ratelimit.Middleware(rl))
	}
	authOpts := auth.Options{Verifier: opts.Verifier, Logger: log}
	r.Use(auth.Authenticate(authOpts), auth.RequireAccess(authOpts))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteKind(w, apierr.NotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteKind(w, apierr.MethodNotAllowed)
	})

	if opts.Health != nil {
		r.Get("/health", opts.Health.Liveness)
		r.Get("/api/health", opts.Health.Aggregate)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	if opts.Relay != nil {
		r.Get("/ws/notifications/{user_id}", opts.Relay.ServeHTTP)
	}
	if opts.Dispatcher != nil {
		cc := opts.Concurrency
		if cc.Logger == nil {
			cc.Logger = log
		}
		if cc.Recorder == nil && opts.Metrics != nil {
			cc.Recorder = opts.Metrics
		}
		r.Group(func(g chi.Router) {
			g.Use(ratelimit.ConcurrencyMiddleware(cc))
			g.Handle(auth.APIPrefix+"/*", opts.Dispatcher)
		})
	}
	return r
}

// labeler keeps the metrics and stats service label bounded to configured
// services.
func labeler(d *proxy.Dispatcher) func(string) string {
	return func(path string) string {
		name := correlation.ServiceLabel(path)
		if name == "gateway" {
			return name
		}
		if d != nil {
			if _, ok := d.Routes().Lookup(name); ok {
				return name
			}
		}
		return "unknown"
	}
}
