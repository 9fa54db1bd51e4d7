// Package metrics provides Prometheus metrics for the attendance service.
// A nil *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "attendance"

// Manager owns a private registry and the service's collectors
type Manager struct {
	registry *prometheus.Registry

	sessionOutcomes *prometheus.CounterVec
	markOutcomes    *prometheus.CounterVec
	matchConfidence prometheus.Histogram
	saveConflicts   prometheus.Counter
	rosterSize      prometheus.Histogram

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Manager with all collectors registered under namespace
func New(namespace string) *Manager {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Manager{
		registry: reg,
		sessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "start_total",
			Help:      "Session start requests by outcome.",
		}, []string{"outcome"}),
		markOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "mark_total",
			Help:      "Attendance marking requests by outcome.",
		}, []string{"outcome"}),
		matchConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "facematch",
			Name:      "confidence",
			Help:      "Cosine similarity of accepted face matches.",
			Buckets:   []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 1},
		}),
		saveConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "save_conflicts_total",
			Help:      "Optimistic concurrency conflicts while saving a session.",
		}),
		rosterSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "facematch",
			Name:      "candidates",
			Help:      "Number of candidates with a descriptor scanned per match.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Registry exposes the underlying registry
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSession counts a session start outcome
func (m *Manager) ObserveSession(outcome string) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveMark counts a marking outcome; confidence is recorded when positive
func (m *Manager) ObserveMark(outcome string, confidence float64) {
	if m == nil {
		return
	}
	m.markOutcomes.WithLabelValues(outcome).Inc()
	if confidence > 0 {
		m.matchConfidence.Observe(confidence)
	}
}

// ObserveCandidates records how many descriptors a match scanned
func (m *Manager) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.rosterSize.Observe(float64(n))
}

// ObserveConflict counts a lost compare-and-swap
func (m *Manager) ObserveConflict() {
	if m == nil {
		return
	}
	m.saveConflicts.Inc()
}

// Middleware records request counts and latency keyed by chi route pattern
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
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
			m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
			m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
