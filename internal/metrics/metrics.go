// Package metrics exposes Prometheus counters for HTTP traffic, sync
// outcomes and thought changes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/enso-notes/enso/internal/event"
)

const namespace = "enso"

// Collector holds every metric on its own registry so that tests and
// multiple servers in one process do not collide.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SyncRequests *prometheus.CounterVec
	SyncChanges  *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
	SyncReturned prometheus.Counter

	ThoughtEvents *prometheus.CounterVec
}

// New creates a collector. withRuntime adds the Go and process collectors.
func New(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SyncRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "requests_total",
				Help:      "Sync requests and batch applies that committed",
			},
			[]string{"source"},
		),
		SyncChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "changes_total",
				Help:      "Incoming changes by outcome",
			},
			[]string{"outcome"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Time spent applying and paging one sync request",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"source"},
		),
		SyncReturned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "returned_total",
				Help:      "Thoughts returned to clients in change pages",
			},
		),
		ThoughtEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "thought_changes_total",
				Help:      "Committed thought changes by kind",
			},
			[]string{"kind"},
		),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.SyncRequests,
		c.SyncChanges,
		c.SyncDuration,
		c.SyncReturned,
		c.ThoughtEvents,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Publish implements event.Sink.
func (c *Collector) Publish(e event.Event) {
	if e.Kind != event.Synced {
		c.ThoughtEvents.WithLabelValues(string(e.Kind)).Inc()
		return
	}
	source := "apply"
	if e.ClientID != "" {
		source = "sync"
	}
	c.SyncRequests.WithLabelValues(source).Inc()
	c.SyncDuration.WithLabelValues(source).Observe(e.Duration.Seconds())
	c.SyncChanges.WithLabelValues("applied").Add(float64(e.Applied))
	c.SyncChanges.WithLabelValues("stale").Add(float64(e.Stale))
	c.SyncChanges.WithLabelValues("rejected").Add(float64(e.Rejected))
	c.SyncReturned.Add(float64(e.Returned))
}

// Middleware records request counts and latency labelled by the chi route
// pattern, which keeps thought ids out of the label set.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
