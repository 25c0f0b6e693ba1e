package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/quality"
)

func TestObserveRun(t *testing.T) {
	r := NewRegistry()
	stats := enrich.Stats{
		Rows: 10,
		Market: enrich.SourceStats{
			Source: "yahoo:^GSPC", Keys: 3, Resolved: 2, NotAvailable: 1,
			Cache: enrich.CacheStats{Hits: 7, Fetches: 3},
		},
		Weather: enrich.SourceStats{Source: "openmeteo", Keys: 4, Resolved: 3, SourceErrors: 1},
	}
	report := quality.Report{Checks: []quality.CheckResult{
		{Name: quality.CheckRowCount, Passed: true},
		{Name: quality.CheckMarketRange, Passed: false, AffectedRows: 1},
	}}

	r.ObserveRun("succeeded", 2*time.Second, stats, report)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Runs.WithLabelValues("succeeded")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.Rows))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Fetches.WithLabelValues("yahoo:^GSPC", "not_available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Fetches.WithLabelValues("openmeteo", "source_error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.CacheRequests.WithLabelValues("yahoo:^GSPC", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ValidationFailures.WithLabelValues(quality.CheckMarketRange)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ValidationFailures.WithLabelValues(quality.CheckRowCount)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.ObserveRun("failed", time.Second, enrich.Stats{}, quality.Report{})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `enrich_runs_total{status="failed"} 1`)
	assert.Contains(t, string(body), "enrich_run_duration_seconds_count 1")
}
