// Package proxy forwards /api/v1/<service>/... requests to the downstream
// that owns the service.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"healthcare-gateway/apierr"
	"healthcare-gateway/middleware/requestctx"

	"go.uber.org/zap"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
	HeaderUserRole      = "X-User-Role"
)

// ErrorRecorder counts downstream failures.
type ErrorRecorder interface {
	RecordProxyError(service, kind string)
}

type Dispatcher struct {
	routes    RouteTable
	proxies   map[string]*httputil.ReverseProxy
	timeout   time.Duration
	transport http.RoundTripper
	log       *zap.Logger
	errors    ErrorRecorder
}

type Option func(*Dispatcher)

// WithTimeout bounds each downstream exchange. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(d *Dispatcher) { d.transport = rt }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithErrorRecorder(r ErrorRecorder) Option {
	return func(d *Dispatcher) { d.errors = r }
}

func NewDispatcher(routes RouteTable, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:  routes,
		proxies: make(map[string]*httputil.ReverseProxy, len(routes)),
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.transport == nil {
		d.transport = defaultTransport()
	}
	for name, target := range routes {
		d.proxies[name] = d.newReverseProxy(name, target)
	}
	return d
}

func defaultTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 32
	t.IdleConnTimeout = 90 * time.Second
	return t
}

func (d *Dispatcher) Routes() RouteTable { return d.routes }

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, _ := ServiceName(r.URL.Path)
	rp, ok := d.proxies[name]
	if !ok {
		apierr.Write(w, apierr.New(apierr.UnknownService, fmt.Sprintf("Service '%s' not found", name)))
		return
	}

	if d.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	rp.ServeHTTP(w, r)
}

func (d *Dispatcher) newReverseProxy(name string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			// identity headers are only ever set by the gateway
			pr.Out.Header.Del(HeaderUserID)
			pr.Out.Header.Del(HeaderUserRole)

			if id := requestctx.CorrelationID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(HeaderCorrelationID, id)
			}
			if id, ok := requestctx.IdentityFrom(pr.In.Context()); ok {
				pr.Out.Header.Set(HeaderUserID, id.UserIDString())
				pr.Out.Header.Set(HeaderUserRole, string(id.Role))
			}
		},
		// the gateway owns these; ReverseProxy would otherwise append the
		// downstream copies next to the ones already on w
		ModifyResponse: func(resp *http.Response) error {
			stripGatewayOwned(resp.Header)
			return nil
		},
		Transport: d.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			d.fail(w, r, name, err)
		},
	}
}

func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, service string, err error) {
	kind := classify(r.Context(), err)
	corr := requestctx.CorrelationID(r.Context())

	if errors.Is(r.Context().Err(), context.Canceled) {
		// the client went away; nobody reads this response
		d.log.Debug("client cancelled downstream call",
			zap.String("service", service), zap.String("correlation_id", corr))
	} else {
		d.log.Error("downstream call failed",
			zap.String("service", service),
			zap.String("kind", kind.String()),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", corr),
			zap.Error(err))
	}
	if d.errors != nil {
		d.errors.RecordProxyError(service, kind.String())
	}
	apierr.Write(w, apierr.Wrap(kind, err))
}

func stripGatewayOwned(h http.Header) {
	h.Del(HeaderCorrelationID)
	for k := range h {
		if strings.HasPrefix(k, "Access-Control-") {
			h.Del(k)
		}
	}
}

func classify(ctx context.Context, err error) apierr.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apierr.DownstreamTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apierr.DownstreamTimeout
	}
	return apierr.DownstreamUnreachable
}
