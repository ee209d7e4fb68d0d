package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired tile-cache rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cutoff := time.Now().Add(-pruneOlderThan)
		removed, err := env.PlaceStore.ExpireBefore(ctx, cutoff)
		if err != nil {
			return err
		}

		zap.L().Info("expired tiles pruned",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff),
		)
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0,
		"only delete tiles expired at least this long ago")
	rootCmd.AddCommand(pruneCmd)
}
