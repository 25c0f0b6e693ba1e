package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/pipeline"
)

// OrderLoader supplies the order table for a scheduled run.
type OrderLoader func() ([]enrich.OrderRecord, error)

// Runner is the part of pipeline.Runner the scheduler needs.
type Runner interface {
	Run(ctx context.Context, orders []enrich.OrderRecord) (pipeline.Outcome, error)
}

// Scheduler periodically re-runs the enrichment batch.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	load      OrderLoader
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler. timeout bounds each run; zero means the run
// may take up to one interval.
func New(runner Runner, load OrderLoader, interval, timeout time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		load:      load,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// Runs never overlap.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Info().Msg("scheduler: no interval configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.runOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) runOnce() {
	log.Info().Msg("scheduler: running enrichment job")

	orders, err := s.load()
	if err != nil {
		log.Error().Err(err).Msg("scheduler: loading orders failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.runner.Run(ctx, orders)
	if err != nil {
		ev := log.Error()
		if errors.Is(err, pipeline.ErrFatalValidation) {
			ev = log.Warn()
		}
		ev.Err(err).Str("run_id", out.Run.ID).Msg("scheduler: enrichment run failed")
		return
	}
	log.Info().Str("run_id", out.Run.ID).Int("rows", out.Run.OutputRows).Msg("scheduler: completed enrichment job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
