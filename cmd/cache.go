package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the acquisition cache and usage ledger",
}

var (
	cacheStatsUser   string
	cacheStatsWindow time.Duration
)

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		removed, err := env.Ledger.GC(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("cache gc done", zap.Int("removed", removed))
		fmt.Printf("%d expired entries removed\n", removed)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics for a user over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Ledger.Stats(ctx, cacheStatsUser, cacheStatsWindow)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheStatsUser, "user", "", "user ID (required)")
	cacheStatsCmd.Flags().DurationVar(&cacheStatsWindow, "window", 30*24*time.Hour, "lookback window")
	cacheStatsCmd.MarkFlagRequired("user") //nolint:errcheck

	cacheCmd.AddCommand(cacheGCCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
