// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   prometheus.Histogram
	catalogSuccess prometheus.Counter
	catalogFail    prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics on the given
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "animefinder_http_requests_total",
			Help: "HTTP requests by method, route pattern, and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "animefinder_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		catalogSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "animefinder_catalog_proxy_success_total",
			Help: "Successful catalog proxy requests",
		}),
		catalogFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "animefinder_catalog_proxy_fail_total",
			Help: "Failed catalog proxy requests",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.catalogSuccess,
		c.catalogFail,
	)

	return c
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordCatalogSuccess() {
	c.catalogSuccess.Inc()
}

func (c *Collector) RecordCatalogFailure() {
	c.catalogFail.Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
