package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "stage-engine",
	Short: "Stage results and classification engine",
	Long: `Stores stage and KOM segment results of multi-stage cycling events,
derives stage status, builds the General and Mountain classifications, and
publishes reviewer-approved results to the finalizer.`,
	SilenceUsage: true,
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

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("format", "table", "output format: table, csv, json or xlsx")
	pf.String("output", "", "output file path (default: stdout)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
