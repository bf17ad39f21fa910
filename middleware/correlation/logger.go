// Package correlation assigns each request a correlation id and emits the
// per-request log record.
package correlation

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"healthcare-gateway/middleware/requestctx"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const Header = "X-Correlation-ID"

// RequestRecorder receives one observation per finished request.
type RequestRecorder interface {
	RecordRequest(method, service string, status int, duration time.Duration)
}

type Options struct {
	Logger *zap.Logger
	// Service is logged as the "service" field of every record.
	Service string
	Metrics RequestRecorder
	// Label picks the metrics service label for a path. Defaults to
	// ServiceLabel.
	Label func(path string) string
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Middleware installs the request state, echoes the correlation id and logs
// the outcome after the handler returns. A panic is logged with status 500
// and then re-raised for Recover.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Label == nil {
		opts.Label = ServiceLabel
	}
	log := opts.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := &requestctx.State{
				CorrelationID: inboundOrNew(r),
				Start:         opts.Now(),
			}
			w.Header().Set(Header, st.CorrelationID)

			rec := &statusRecorder{ResponseWriter: w}
			r = r.WithContext(requestctx.With(r.Context(), st))

			defer func() {
				p := recover()
				status := rec.Status()
				if p != nil {
					status = http.StatusInternalServerError
				}
				elapsed := opts.Now().Sub(st.Start)

				fields := []zap.Field{
					zap.String("service", opts.Service),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
					zap.String("correlation_id", st.CorrelationID),
				}
				if id, ok := st.Identity(); ok {
					fields = append(fields, zap.Int64("user_id", id.UserID))
				}

				if p != nil {
					fields = append(fields, zap.String("error", fmt.Sprint(p)))
					log.Error("request panicked", fields...)
				} else {
					log.Log(levelFor(status), "request completed", fields...)
				}

				if opts.Metrics != nil {
					opts.Metrics.RecordRequest(r.Method, opts.Label(r.URL.Path), status, elapsed)
				}

				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func inboundOrNew(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(Header)); id != "" {
		return id
	}
	return uuid.NewString()
}

// ServiceLabel maps a request path to a bounded metrics label: the service
// segment for proxied and relayed traffic, "gateway" for everything else.
func ServiceLabel(path string) string {
	for _, prefix := range []string{"/api/v1/", "/ws/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			name, _, _ := strings.Cut(rest, "/")
			if name != "" {
				return name
			}
		}
	}
	return "gateway"
}
