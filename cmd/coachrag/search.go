package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coachrag/internal/retrieval"
)

const excerptLen = 60

var (
	searchUser       string
	searchOutputJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find a user's feedback chunks most similar to a query",
	Long: `Search returns the user's stored chunks ranked by similarity. Scores
are rank based: the best match scores 1.0 and later matches decrease
linearly.

Examples:
  # Search one user's feedback
  coachrag search --user alice "delegation and trust"

  # Output as JSON
  coachrag search --user alice "conflict" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchUser, "user", "", "user whose documents are searched (required)")
	searchCmd.Flags().BoolVar(&searchOutputJSON, "json", false, "output as JSON")
}

type searchResult struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := requireUser(searchUser); err != nil {
		return err
	}
	query := strings.Join(args, " ")

	return withDependencies(cmd.Context(), "search", func(ctx context.Context, deps *dependencies) error {
		session, err := deps.svc.Initialize(ctx, searchUser)
		if err != nil {
			return err
		}
		results, err := session.SimilaritySearch(ctx, query)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if searchOutputJSON {
			return outputJSON(out, toSearchResults(results))
		}
		return printResults(out, results)
	})
}

func toSearchResults(results []retrieval.Result) []searchResult {
	out := make([]searchResult, len(results))
	for i, r := range results {
		out[i] = searchResult{ID: r.ID, Score: r.Score, Content: r.Content, Metadata: r.Metadata}
	}
	return out
}

func printResults(w io.Writer, results []retrieval.Result) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching documents")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tID\tEXCERPT")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\n", i+1, r.Score, r.ID, excerpt(r.Content, excerptLen))
	}
	return tw.Flush()
}

// excerpt collapses whitespace and truncates s to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
