// Package metrics exposes Prometheus metrics for RPC handling and dispatch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openapi_mcp"

// Collector owns a private registry so several collectors can coexist in
// one process (tests build one per case).
type Collector struct {
	registry *prometheus.Registry

	rpcRequestsTotal  *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	httpRequestsTotal *prometheus.CounterVec
	sseConnections    prometheus.Gauge
}

// NewCollector registers all metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		rpcRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of JSON-RPC requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of tool dispatches by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Tool dispatch duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		sseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sse_connections",
				Help:      "Number of open SSE streams",
			},
		),
	}
}

// ObserveDispatch records one dispatch.
func (c *Collector) ObserveDispatch(tool, outcome string, d time.Duration) {
	c.dispatchTotal.WithLabelValues(tool, outcome).Inc()
	c.dispatchDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRPC records one JSON-RPC request.
func (c *Collector) ObserveRPC(method, outcome string) {
	c.rpcRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveHTTP records one HTTP request.
func (c *Collector) ObserveHTTP(method string, status int) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// SSEOpened increments the open stream gauge.
func (c *Collector) SSEOpened() { c.sseConnections.Inc() }

// SSEClosed decrements the open stream gauge.
func (c *Collector) SSEClosed() { c.sseConnections.Dec() }

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
