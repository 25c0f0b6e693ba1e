package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/metrics"
	"github.com/i474232898/seller-order-enrichment/internal/quality"
	"github.com/i474232898/seller-order-enrichment/internal/sink"
	"github.com/i474232898/seller-order-enrichment/internal/store"
)

// ErrFatalValidation is returned when a check configured as fatal failed.
// The output is not written.
var ErrFatalValidation = errors.New("fatal validation failure")

// Outcome is what one run produced. Rows is nil when enrichment did not
// complete.
type Outcome struct {
	Run  store.RunRecord
	Rows []enrich.EnrichedOrderRecord
}

// Runner executes enrichment runs. It is safe for concurrent use; every run
// builds its own caches.
type Runner struct {
	enricher  *enrich.Enricher
	validator *quality.Validator
	store     *store.MemoryStore
	sink      sink.Sink
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewRunner wires a runner. store and metrics may be nil; a nil sink
// discards output.
func NewRunner(e *enrich.Enricher, v *quality.Validator, st *store.MemoryStore, sk sink.Sink, m *metrics.Registry) *Runner {
	if sk == nil {
		sk = sink.Discard{}
	}
	return &Runner{enricher: e, validator: v, store: st, sink: sk, metrics: m, now: time.Now}
}

// Run enriches orders, validates the result and writes it to the sink. The
// run is recorded whatever the outcome.
func (r *Runner) Run(ctx context.Context, orders []enrich.OrderRecord) (Outcome, error) {
	rec := store.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: r.now().UTC(),
		InputRows: len(orders),
	}
	logger := log.With().Str("run_id", rec.ID).Logger()
	logger.Info().Int("orders", len(orders)).Msg("enrichment run started")

	rec.Precheck = r.validator.PrecheckInput(orders)
	for _, c := range rec.Precheck.Failed() {
		logger.Warn().Str("check", c.Name).Int("affected_rows", c.AffectedRows).Msg("input precheck failed")
	}

	rows, stats, err := r.enricher.Enrich(ctx, orders)
	rec.Stats = stats
	if err != nil {
		return Outcome{Run: r.finish(rec, statusFor(err), err)}, fmt.Errorf("enrich: %w", err)
	}
	rec.OutputRows = len(rows)

	rec.Report = r.validator.Validate(orders, rows)
	if fatal := rec.Report.FatalFailures(); len(fatal) > 0 {
		names := make([]string, len(fatal))
		for i, c := range fatal {
			names[i] = c.Name
		}
		err := fmt.Errorf("%w: %s", ErrFatalValidation, strings.Join(names, ","))
		return Outcome{Run: r.finish(rec, store.StatusFailedValidation, err), Rows: rows}, err
	}
	for _, c := range rec.Report.Failed() {
		logger.Warn().Str("check", c.Name).Int("affected_rows", c.AffectedRows).Msg("validation check failed")
	}

	if err := r.sink.Write(ctx, rows); err != nil {
		err = fmt.Errorf("write %s: %w", r.sink.Name(), err)
		return Outcome{Run: r.finish(rec, statusFor(err), err), Rows: rows}, err
	}
	return Outcome{Run: r.finish(rec, store.StatusSucceeded, nil), Rows: rows}, nil
}

func (r *Runner) finish(rec store.RunRecord, status store.RunStatus, err error) store.RunRecord {
	rec.Status = status
	rec.FinishedAt = r.now().UTC()
	if err != nil {
		rec.Error = err.Error()
	}
	if r.store != nil {
		r.store.Save(rec)
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(string(status), rec.FinishedAt.Sub(rec.StartedAt), rec.Stats, rec.Report)
	}

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("run_id", rec.ID).
		Str("status", string(status)).
		Int("rows", rec.OutputRows).
		Int("market_keys", rec.Stats.Market.Keys).
		Int64("market_fetches", rec.Stats.Market.Cache.Fetches).
		Int("weather_keys", rec.Stats.Weather.Keys).
		Int64("weather_fetches", rec.Stats.Weather.Cache.Fetches).
		Dur("elapsed", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("enrichment run finished")
	return rec
}

func statusFor(err error) store.RunStatus {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.StatusCancelled
	}
	return store.StatusFailed
}
