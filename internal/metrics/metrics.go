package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/quality"
)

type Registry struct {
	reg                *prometheus.Registry
	Runs               *prometheus.CounterVec
	Rows               prometheus.Counter
	Fetches            *prometheus.CounterVec
	CacheRequests      *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ValidationFailures *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enrich_runs_total"}, []string{"status"})
	rows := prometheus.NewCounter(prometheus.CounterOpts{Name: "enrich_rows_total"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enrich_fetch_total"}, []string{"source", "outcome"})
	cacheRequests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enrich_cache_requests_total"}, []string{"source", "result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrich_run_duration_seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
	validation := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "enrich_validation_failures_total"}, []string{"check"})

	r.MustRegister(runs, rows, fetches, cacheRequests, duration, validation)
	return &Registry{
		reg:                r,
		Runs:               runs,
		Rows:               rows,
		Fetches:            fetches,
		CacheRequests:      cacheRequests,
		RunDuration:        duration,
		ValidationFailures: validation,
	}
}

// ObserveRun records the outcome of one run. Stats and report may be zero
// values for runs that did not get that far.
func (r *Registry) ObserveRun(status string, elapsed time.Duration, stats enrich.Stats, report quality.Report) {
	r.Runs.WithLabelValues(status).Inc()
	r.RunDuration.Observe(elapsed.Seconds())
	r.Rows.Add(float64(stats.Rows))

	for _, s := range []enrich.SourceStats{stats.Market, stats.Weather} {
		if s.Source == "" {
			continue
		}
		r.Fetches.WithLabelValues(s.Source, "resolved").Add(float64(s.Resolved))
		r.Fetches.WithLabelValues(s.Source, "not_available").Add(float64(s.NotAvailable))
		r.Fetches.WithLabelValues(s.Source, "source_error").Add(float64(s.SourceErrors))
		r.CacheRequests.WithLabelValues(s.Source, "hit").Add(float64(s.Cache.Hits))
		r.CacheRequests.WithLabelValues(s.Source, "miss").Add(float64(s.Cache.Fetches))
	}
	for _, c := range report.Failed() {
		r.ValidationFailures.WithLabelValues(c.Name).Inc()
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
