package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/i474232898/seller-order-enrichment/internal/config"
	"github.com/i474232898/seller-order-enrichment/internal/pipeline"
	"github.com/i474232898/seller-order-enrichment/internal/sink"
)

func runCmd(cfgFn func() *config.AppConfig) *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich an order file once and write the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			if input == "" {
				input = cfg.InputPath
			}
			if input == "" {
				return errors.New("no input: pass --input or set INPUT_PATH")
			}
			var out sink.Sink
			if output != "" {
				out = sink.NewJSONLSink(output)
			}
			return runOnce(cmd.Context(), cfg, input, out)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSONL order file (default INPUT_PATH)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "JSONL output file (default DATABASE_URL or OUTPUT_PATH)")
	return cmd
}

func runOnce(parent context.Context, cfg *config.AppConfig, input string, out sink.Sink) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orders, err := pipeline.LoadOrdersFile(input, config.Location(cfg.OrderTimezone))
	if err != nil {
		return err
	}

	comps, err := build(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer comps.Close()

	res, runErr := boundedRunner{runner: comps.runner, timeout: cfg.RunTimeout}.Run(ctx, orders)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Run); err != nil {
		return err
	}
	return runErr
}
