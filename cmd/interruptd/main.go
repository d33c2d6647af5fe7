package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"interruptd/internal/config"
	"interruptd/internal/logger"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "interruptd",
		Short: "Interrupt service daemon",
		Long:  "interruptd ingests events from collectors, matches them against persisted rules and dispatches notifications through batched, rate-limited pipelines",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the interrupt service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv("INTERRUPTD_CONFIG")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Infow("Starting interrupt service", "data_dir", cfg.DataDir)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			if err := app.Run(ctx); err != nil {
				log.Errorw("Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
