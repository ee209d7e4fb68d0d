package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "placesync",
	Short: "Viewport place aggregation and event feed ingestion",
	Long:  "Aggregates venue data from OSM, Foursquare and Google into canonical places, and ingests city event feeds (ICS, JSON-LD, RSS) with venue matching and dedupe.",
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
