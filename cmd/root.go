package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viralscope/viralscope/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "viralscope",
	Short: "Instagram analytics and viral-ideas pipeline",
	Long:  "Scrapes Instagram profiles and reels, categorises content with Claude, discovers similar accounts, and generates viral content ideas from competitor analysis.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
