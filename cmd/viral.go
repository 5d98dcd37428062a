package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var viralCmd = &cobra.Command{
	Use:   "viral",
	Short: "Run the viral-ideas workflow engine",
	Long:  "Polls for queued viral-ideas requests and due recurring refreshes, harvests reels and transcripts, and runs the AI analysis workflow.",
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

		pipe, err := buildPipeline(svc)
		if err != nil {
			return err
		}
		processor := buildViralProcessor(svc, pipe)

		zap.L().Info("viral processor starting",
			zap.Int("refresh_hours", cfg.Viral.RefreshHours))
		if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(viralCmd)
}
