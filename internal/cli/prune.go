package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/app"
)

var (
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete alert, history, and delivery rows older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Prune(cmd.Context(), app.PruneOptions{
			OlderThan: pruneOlderThan,
			DryRun:    pruneDryRun,
		})
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 90*24*time.Hour, "Delete rows older than this duration")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Log what would be pruned without deleting")
}
