package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jkbrsn/mlexport"
	"github.com/jkbrsn/mlexport/internal/mlflow"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mlexport",
		Short: "Export MLflow experiment metrics to monitoring sinks",
		Long: `mlexport polls an MLflow tracking server for experiment metrics and
forwards new points to the configured monitoring sinks: a Prometheus push
gateway, a generic push-based metrics API, and optionally a WebSocket stream.
Delivered points are watermarked so unchanged history is never re-sent.`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setUpLogging(flagLogLevel)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "",
		"path to a YAML config file (environment variables take precedence)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(exportOnceCmd())
	rootCmd.AddCommand(continuousCmd())
	rootCmd.AddCommand(generateSampleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exportOnceCmd runs exactly one extract→dispatch cycle. Exit code is zero
// only when every enabled sink accepted the batch.
func exportOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-once",
		Short: "Run a single export cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := buildRunner()
			if err != nil {
				return err
			}

			report, err := runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !report.Success() {
				return fmt.Errorf("export incomplete, failed sinks: %v", report.FailedSinks())
			}
			return nil
		},
	}
}

// continuousCmd repeats export cycles until interrupted.
func continuousCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continuous",
		Short: "Run export cycles on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := buildRunner()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runner.RunContinuous(ctx)
		},
	}
}

// generateSampleCmd seeds the tracking store with a demonstration run.
func generateSampleCmd() *cobra.Command {
	var experimentName string
	cmd := &cobra.Command{
		Use:   "generate-sample",
		Short: "Seed the tracking store with synthetic experiment data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := mlexport.LoadConfig(flagConfig)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			client := mlflow.NewClient(cfg.TrackingURI)
			runID, err := client.SeedSampleData(ctx, experimentName)
			if err != nil {
				return fmt.Errorf("failed to generate sample data: %w", err)
			}
			log.Info().Str("run_id", runID).Str("experiment", experimentName).
				Msg("Sample data generated")
			return nil
		},
	}
	cmd.Flags().StringVar(&experimentName, "experiment", "mlexport-sample",
		"name of the experiment to seed")
	return cmd
}

func buildRunner() (*mlexport.Runner, error) {
	cfg, err := mlexport.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}
	return mlexport.New(cfg)
}

func setUpLogging(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}
