package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/store"
	"github.com/viralscope/viralscope/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue worker pool",
	Long:  "Claims queued usernames and runs the scrape pipeline: HIGH priority items preempt LOW ones, failed items are retried, and paused items are re-queued on startup.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var shadow *store.CSVShadow
		if cfg.Queue.CSVShadow {
			shadow = store.NewCSVShadow(cfg.Queue.CSVPath)
			zap.L().Info("csv shadow enabled", zap.String("path", cfg.Queue.CSVPath))
		}

		pipe, err := buildPipeline(svc)
		if err != nil {
			return err
		}
		pool := worker.New(cfg.Queue, svc.store, pipe, shadow)

		zap.L().Info("worker pool starting",
			zap.Int("max_high", cfg.Queue.MaxConcurrentHigh),
			zap.Int("max_low", cfg.Queue.MaxConcurrentLow))
		return pool.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
