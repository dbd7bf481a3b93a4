package cli

import (
	"github.com/spf13/cobra"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/app"
)

var (
	simulateSource string
	simulateFields []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed one synthetic observation through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			SourceName: simulateSource,
			Fields:     simulateFields,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSource, "source", "", "Configured source name to simulate for")
	simulateCmd.Flags().StringArrayVar(&simulateFields, "field", nil, "Observation field as key=value (repeatable)")
	_ = simulateCmd.MarkFlagRequired("source")
}
