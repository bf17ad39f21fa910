package ratelimit

import (
	"net/http"
	"time"

	"healthcare-gateway/apierr"
	"healthcare-gateway/middleware/ratelimit/application"
	"healthcare-gateway/middleware/ratelimit/infra"
	"healthcare-gateway/middleware/requestctx"

	"go.uber.org/zap"
)

// InflightRecorder observes the concurrency cap.
type InflightRecorder interface {
	SetInflight(n int)
	RecordOverload()
}

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	Logger         *zap.Logger
	Recorder       InflightRecorder
}

// ConcurrencyMiddleware caps in-flight requests at Max and answers 503 when
// no slot frees up within AcquireTimeout. Max <= 0 disables it.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("concurrency")

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}
	report := func() {
		if opts.Recorder != nil {
			opts.Recorder.SetInflight(svc.InUse())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				log.Warn("no in-flight slot available",
					zap.Int("max", opts.Max),
					zap.String("path", r.URL.Path),
					zap.String("correlation_id", requestctx.CorrelationID(r.Context())))
				if opts.Recorder != nil {
					opts.Recorder.RecordOverload()
				}
				apierr.WriteKind(w, apierr.Overloaded)
				return
			}
			report()
			defer func() {
				release()
				report()
			}()

			next.ServeHTTP(w, r)
		})
	}
}
