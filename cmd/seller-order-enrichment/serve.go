package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/seller-order-enrichment/internal/api/http"
	"github.com/i474232898/seller-order-enrichment/internal/config"
	"github.com/i474232898/seller-order-enrichment/internal/enrich"
	"github.com/i474232898/seller-order-enrichment/internal/pipeline"
	"github.com/i474232898/seller-order-enrichment/internal/scheduler"
)

func serveCmd(cfgFn func() *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the enrichment API and run the scheduled batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgFn())
		},
	}
}

func serve(parent context.Context, cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer comps.Close()

	runner := boundedRunner{runner: comps.runner, timeout: cfg.RunTimeout}
	orderLoc := config.Location(cfg.OrderTimezone)

	// Scheduler that periodically re-enriches the input file.
	if cfg.EnrichInterval > 0 && cfg.InputPath != "" {
		sched := scheduler.New(runner, func() ([]enrich.OrderRecord, error) {
			return pipeline.LoadOrdersFile(cfg.InputPath, orderLoc)
		}, cfg.EnrichInterval, cfg.RunTimeout)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          cfg.RunTimeout + 30*time.Second,
		BodyLimit:             64 << 20,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterOps(app, appName, comps.metrics)
	httpapi.RegisterRoutes(app, runner, comps.store, orderLoc)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
			stop()
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("listening")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}
