// Package health serves the gateway's own liveness and the aggregated
// health of every downstream.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"healthcare-gateway/proxy"

	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// UpRecorder is told the outcome of every probe.
type UpRecorder interface {
	SetDownstreamUp(service string, up bool)
}

type ServiceHealth struct {
	Status     string  `json:"status"`
	StatusCode int     `json:"status_code,omitempty"`
	LatencyMS  float64 `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

type Report struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}

type Checker struct {
	service string
	routes  proxy.RouteTable
	client  *http.Client
	timeout time.Duration
	up      UpRecorder
	log     *zap.Logger
}

type Option func(*Checker)

func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(ch *Checker) { ch.timeout = d }
}

func WithUpRecorder(r UpRecorder) Option {
	return func(ch *Checker) { ch.up = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(ch *Checker) { ch.log = l }
}

func NewChecker(service string, routes proxy.RouteTable, opts ...Option) *Checker {
	c := &Checker{
		service: service,
		routes:  routes,
		client:  &http.Client{},
		timeout: 5 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Liveness answers GET /health.
func (c *Checker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": StatusHealthy, "service": c.service})
}

// Aggregate answers GET /api/health. It is always 200; the body says which
// services are down.
func (c *Checker) Aggregate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Probe(r.Context()))
}

// Probe checks every downstream concurrently.
func (c *Checker) Probe(ctx context.Context) Report {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		rep = Report{Status: StatusHealthy, Services: make(map[string]ServiceHealth, len(c.routes))}
	)
	for _, name := range c.routes.Names() {
		base, _ := c.routes.Lookup(name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sh := c.probeOne(ctx, base.String()+"/health")

			if c.up != nil {
				c.up.SetDownstreamUp(name, sh.Status == StatusHealthy)
			}
			mu.Lock()
			rep.Services[name] = sh
			if sh.Status != StatusHealthy {
				rep.Status = StatusDegraded
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return rep
}

func (c *Checker) probeOne(ctx context.Context, target string) ServiceHealth {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ServiceHealth{Status: StatusUnhealthy, Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		c.log.Warn("health probe failed", zap.String("target", target), zap.Error(err))
		return ServiceHealth{Status: StatusUnhealthy, LatencyMS: latency, Error: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	sh := ServiceHealth{Status: StatusHealthy, StatusCode: resp.StatusCode, LatencyMS: latency}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sh.Status = StatusUnhealthy
		sh.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return sh
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
