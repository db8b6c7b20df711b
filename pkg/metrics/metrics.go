// Package metrics defines the Prometheus collectors for index builds and
// searches and exposes an HTTP handler for scraping.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcomes used as label values.
const (
	OutcomeHit       = "hit"
	OutcomeEmpty     = "empty"
	OutcomeRejected  = "rejected"
	OutcomeThrottled = "throttled"
)

// Metrics holds all Prometheus collectors for symserve.
type Metrics struct {
	BuildsTotal      *prometheus.CounterVec
	BuildDuration    prometheus.Histogram
	IndexEntries     prometheus.Gauge
	IndexKeys        prometheus.Gauge
	SearchesTotal    *prometheus.CounterVec
	SearchLatency    prometheus.Histogram
	SearchGroups     prometheus.Histogram
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symserve_index_builds_total",
				Help: "Index builds by status (ok, error).",
			},
			[]string{"status"},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symserve_index_build_duration_seconds",
				Help:    "Time spent loading and building an index.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		IndexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "symserve_index_entries",
				Help: "Entries in the index currently being served.",
			},
		),
		IndexKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "symserve_index_keys",
				Help: "Distinct keys in the index currently being served.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symserve_searches_total",
				Help: "Search requests by outcome (hit, empty, rejected, throttled).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symserve_search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),
		SearchGroups: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symserve_search_groups",
				Help:    "Result groups returned per search.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "symserve_cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "symserve_cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.BuildsTotal,
		m.BuildDuration,
		m.IndexEntries,
		m.IndexKeys,
		m.SearchesTotal,
		m.SearchLatency,
		m.SearchGroups,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)
	return m
}

// ObserveBuild records one load+build attempt.
func (m *Metrics) ObserveBuild(elapsed time.Duration, entries, keys int, err error) {
	m.BuildDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.BuildsTotal.WithLabelValues("error").Inc()
		return
	}
	m.BuildsTotal.WithLabelValues("ok").Inc()
	m.IndexEntries.Set(float64(entries))
	m.IndexKeys.Set(float64(keys))
}

// ObserveSearch records a served search.
func (m *Metrics) ObserveSearch(elapsed time.Duration, groups int) {
	m.SearchLatency.Observe(elapsed.Seconds())
	m.SearchGroups.Observe(float64(groups))
	if groups == 0 {
		m.SearchesTotal.WithLabelValues(OutcomeEmpty).Inc()
		return
	}
	m.SearchesTotal.WithLabelValues(OutcomeHit).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Debugf("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
