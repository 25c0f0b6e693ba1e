package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/i474232898/seller-order-enrichment/internal/config"
	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/enrich/providers"
	"github.com/i474232898/seller-order-enrichment/internal/metrics"
	"github.com/i474232898/seller-order-enrichment/internal/pipeline"
	"github.com/i474232898/seller-order-enrichment/internal/quality"
	"github.com/i474232898/seller-order-enrichment/internal/sink"
	"github.com/i474232898/seller-order-enrichment/internal/store"
)

// components is everything a command needs, built once from configuration.
type components struct {
	runner  *pipeline.Runner
	store   *store.MemoryStore
	metrics *metrics.Registry
	closers []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func limiter(cfg *config.AppConfig) *rate.Limiter {
	if cfg.SourceRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.SourceRPS), cfg.SourceBurst)
}

func build(ctx context.Context, cfg *config.AppConfig, out sink.Sink) (*components, error) {
	c := &components{}

	// Shared HTTP client for outbound source calls; each call is further
	// bounded by FetchTimeout.
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}

	var respCache providers.ResponseCache
	if cfg.RedisAddr != "" {
		rc, err := store.NewRedisResponseCache(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; response cache disabled")
		} else {
			respCache = rc
			c.closers = append(c.closers, rc.Close)
		}
	}

	httpCfg := func() providers.HTTPClientConfig {
		return providers.HTTPClientConfig{
			Client:  httpClient,
			Backoff: providers.DefaultBackoff,
			Limiter: limiter(cfg),
			Cache:   respCache,
		}
	}

	market := providers.NewYahooChartSource(httpCfg(), cfg.MarketBaseURL, cfg.MarketSymbol)

	var weather enrich.WeatherSource = providers.NewOpenMeteoSource(httpCfg(), cfg.WeatherBaseURL, cfg.WeatherTimezone)
	if cfg.WeatherAPIKey != "" {
		weather = providers.NewWeatherChain(weather, providers.NewWeatherAPISource(httpCfg(), "", cfg.WeatherAPIKey))
	}

	enricher := enrich.NewEnricher(market, weather, enrich.Options{
		Keys: enrich.KeyOptions{
			Precision: cfg.CoordPrecision,
			Location:  config.Location(cfg.OrderTimezone),
		},
		LookbackDays: cfg.MarketLookbackDays,
		Exchange:     config.Location(cfg.MarketTimezone),
		Bounds:       cfg.Geo,
		Workers:      cfg.FetchWorkers,
		FetchTimeout: cfg.FetchTimeout,
		Prefetch:     cfg.MarketPrefetch,
	})

	if out == nil {
		var err error
		out, err = openSink(ctx, cfg, c)
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	c.store = store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	c.metrics = metrics.NewRegistry()
	qcfg := cfg.Quality()
	if _, keyed := out.(*sink.PostgresSink); keyed {
		// The upsert cannot take the same order_id twice in one batch.
		qcfg = qcfg.WithFatal(quality.CheckOrderIDUnique)
	}
	c.runner = pipeline.NewRunner(enricher, quality.NewValidator(qcfg), c.store, out, c.metrics)

	log.Info().
		Str("market", market.Name()).
		Str("weather", weather.Name()).
		Str("sink", out.Name()).
		Int("workers", cfg.FetchWorkers).
		Bool("response_cache", respCache != nil).
		Msg("pipeline configured")
	return c, nil
}

func openSink(ctx context.Context, cfg *config.AppConfig, c *components) (sink.Sink, error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		pg := sink.NewPostgresSink(db, cfg.RunTimeout)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case cfg.OutputPath != "":
		return sink.NewJSONLSink(cfg.OutputPath), nil
	default:
		return sink.Discard{}, nil
	}
}

// boundedRunner applies the configured run timeout to every run.
type boundedRunner struct {
	runner  *pipeline.Runner
	timeout time.Duration
}

func (b boundedRunner) Run(ctx context.Context, orders []enrich.OrderRecord) (pipeline.Outcome, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.runner.Run(ctx, orders)
}
