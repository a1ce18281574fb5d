package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsOutputJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Long: `Stats prints the backend, collection, record count and dimension of
the configured vector index.

Examples:
  coachrag stats
  coachrag stats --config coachrag.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsOutputJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	return withDependencies(cmd.Context(), "stats", func(ctx context.Context, deps *dependencies) error {
		if err := deps.svc.Open(ctx); err != nil {
			return err
		}
		stats, err := deps.svc.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		out := cmd.OutOrStdout()
		if statsOutputJSON {
			return outputJSON(out, stats)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Provider:\t%s\n", stats.Provider)
		fmt.Fprintf(tw, "Collection:\t%s\n", stats.Collection)
		fmt.Fprintf(tw, "Records:\t%d\n", stats.Documents)
		fmt.Fprintf(tw, "Dimension:\t%d\n", stats.Dimension)
		return tw.Flush()
	})
}
