package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/seller-order-enrichment/internal/config"
)

const appName = "seller-order-enrichment"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	var jsonLogs bool
	root := &cobra.Command{
		Use:           appName,
		Short:         "Enrich seller orders with market and weather context",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of console output")

	var cfg *config.AppConfig
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if !jsonLogs {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(loaded.LogLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		cfg = loaded
		return nil
	}

	root.AddCommand(
		serveCmd(func() *config.AppConfig { return cfg }),
		runCmd(func() *config.AppConfig { return cfg }),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg(appName + " failed")
	}
}
