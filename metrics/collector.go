// Package metrics exposes the gateway's Prometheus instruments.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"healthcare-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the gateway instruments. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitTotal   *prometheus.CounterVec
	proxyErrorsTotal *prometheus.CounterVec
	downstreamUp     *prometheus.GaugeVec
	wsSessions       prometheus.Gauge
	wsFramesTotal    *prometheus.CounterVec
	inflight         prometheus.Gauge
	overloadTotal    prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed",
		}, []string{"method", "service", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "service"}),
		rateLimitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ratelimit_decisions_total",
			Help: "Rate limit decisions",
		}, []string{"decision"}),
		proxyErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_proxy_errors_total",
			Help: "Downstream call failures by service and kind",
		}, []string{"service", "kind"}),
		downstreamUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_downstream_up",
			Help: "1 when the last health probe of a downstream succeeded",
		}, []string{"service"}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_sessions_active",
			Help: "WebSocket sessions currently relaying",
		}),
		wsFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ws_frames_total",
			Help: "WebSocket frames relayed by direction",
		}, []string{"direction"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_proxy_inflight_requests",
			Help: "Proxied requests currently holding a concurrency slot",
		}),
		overloadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_proxy_overload_total",
			Help: "Requests rejected because no concurrency slot was free",
		}),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitTotal,
		c.proxyErrorsTotal,
		c.downstreamUp,
		c.wsSessions,
		c.wsFramesTotal,
		c.inflight,
		c.overloadTotal,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordRequest records one finished request. service is the logical service
// name, or "gateway" for locally served paths.
func (c *Collector) RecordRequest(method, service string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, service, statusClass(status)).Inc()
	c.requestDuration.WithLabelValues(method, service).Observe(duration.Seconds())
}

// Record implements domain.StatsStore so rate-limit decisions can be fanned
// out to Prometheus alongside other stats sinks.
func (c *Collector) Record(_ context.Context, ev domain.StatsEvent) error {
	if c == nil {
		return nil
	}
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	c.rateLimitTotal.WithLabelValues(decision).Inc()
	return nil
}

func (c *Collector) RecordProxyError(service, kind string) {
	if c == nil {
		return
	}
	c.proxyErrorsTotal.WithLabelValues(service, kind).Inc()
}

func (c *Collector) SetDownstreamUp(service string, up bool) {
	if c == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	c.downstreamUp.WithLabelValues(service).Set(v)
}

func (c *Collector) WSSessionStarted() {
	if c == nil {
		return
	}
	c.wsSessions.Inc()
}

func (c *Collector) WSSessionEnded() {
	if c == nil {
		return
	}
	c.wsSessions.Dec()
}

func (c *Collector) RecordWSFrame(direction string) {
	if c == nil {
		return
	}
	c.wsFramesTotal.WithLabelValues(direction).Inc()
}

func (c *Collector) SetInflight(n int) {
	if c == nil {
		return
	}
	c.inflight.Set(float64(n))
}

func (c *Collector) RecordOverload() {
	if c == nil {
		return
	}
	c.overloadTotal.Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}
