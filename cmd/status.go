package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-source ingestion health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sources, err := env.EventStore.ListSources(ctx, false)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("no sources configured")
			return nil
		}

		fmt.Printf("%-4s %-30s %-8s %-9s %-7s %-20s %s\n",
			"ID", "NAME", "TYPE", "STATE", "STREAK", "LAST FETCH", "LAST STATUS")
		for _, src := range sources {
			state := "enabled"
			if !src.Enabled {
				state = "disabled"
			}
			last := "never"
			if src.LastFetchedAt != nil {
				last = src.LastFetchedAt.Local().Format(time.DateTime)
			}
			status := src.LastStatus
			if len(status) > 60 {
				status = status[:57] + "..."
			}
			fmt.Printf("%-4d %-30s %-8s %-9s %-7d %-20s %s\n",
				src.ID, src.Name, src.Type, state, src.FailureStreak, last, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
