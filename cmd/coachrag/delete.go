package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coachrag/internal/deletion"
)

var (
	deleteUser       string
	deleteOutputJSON bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every stored record of a user",
	Long: `Delete enumerates the user's records and deletes them one by one.
The run succeeds when every record was attempted; individual failures
are listed.

Examples:
  # Delete all of alice's feedback
  coachrag delete --user alice

  # Output the report as JSON
  coachrag delete --user alice --json`,
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().StringVar(&deleteUser, "user", "", "user whose documents are deleted (required)")
	deleteCmd.Flags().BoolVar(&deleteOutputJSON, "json", false, "output as JSON")
}

type deleteResult struct {
	UserID    string   `json:"userId"`
	Success   bool     `json:"success"`
	Deleted   int      `json:"deleted"`
	Total     int      `json:"total"`
	Failed    []string `json:"failed,omitempty"`
	Truncated bool     `json:"truncated"`
	Strategy  string   `json:"strategy"`
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := requireUser(deleteUser); err != nil {
		return err
	}

	return withDependencies(cmd.Context(), "delete", func(ctx context.Context, deps *dependencies) error {
		if _, err := deps.svc.Initialize(ctx, deleteUser); err != nil {
			return err
		}
		report, err := deps.svc.DeleteUserDocuments(ctx, deleteUser)

		out := cmd.OutOrStdout()
		res := toDeleteResult(deleteUser, report)
		if deleteOutputJSON {
			if jerr := outputJSON(out, res); jerr != nil {
				return jerr
			}
		} else {
			printReport(out, res)
		}
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		if !report.Success {
			return fmt.Errorf("delete incomplete for user %s: records may remain", deleteUser)
		}
		return nil
	})
}

func toDeleteResult(userID string, r deletion.Report) deleteResult {
	return deleteResult{
		UserID:    userID,
		Success:   r.Success,
		Deleted:   r.Deleted,
		Total:     r.Total,
		Failed:    r.Failed,
		Truncated: r.Truncated,
		Strategy:  string(r.Strategy),
	}
}

func printReport(w io.Writer, r deleteResult) {
	fmt.Fprintf(w, "Deleted %d of %d record(s) for user %s\n", r.Deleted, r.Total, r.UserID)
	if r.Strategy != "" {
		fmt.Fprintf(w, "Strategy: %s\n", r.Strategy)
	}
	for _, id := range r.Failed {
		fmt.Fprintf(w, "Failed: %s\n", id)
	}
	if r.Truncated {
		fmt.Fprintln(w, "Warning: enumeration limit reached, records may remain; run delete again")
	}
}
