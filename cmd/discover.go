package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/discovery"
)

var discoverMax int

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one network discovery session",
	Long:  "Walks similar-profile edges outward from existing primary profiles and enqueues unseen accounts as LOW priority scrape work. Prints a session summary as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		dcfg := cfg.Discovery
		if discoverMax > 0 {
			dcfg.MaxAccounts = discoverMax
		}

		d := discovery.New(dcfg, svc.store, svc.ig)
		result, err := d.Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("discovery session finished",
			zap.Int("rounds", len(result.Rounds)),
			zap.Int("total_queued", result.TotalQueued))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	discoverCmd.Flags().IntVar(&discoverMax, "max", 0, "max accounts to queue this session (default from config)")
	rootCmd.AddCommand(discoverCmd)
}
