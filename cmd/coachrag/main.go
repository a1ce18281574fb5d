// Package main implements the coachrag CLI for ingesting, searching and
// deleting coaching feedback documents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file.
	configPath string
	// metricsFile, when set, receives a Prometheus text dump on exit.
	metricsFile string
	// version information
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coachrag",
	Short: "Per-user coaching feedback retrieval",
	Long: `coachrag stores coaching feedback documents in a vector index and
retrieves them by similarity, strictly scoped to one user at a time.

Configuration comes from an optional YAML file (--config) and COACHRAG_*
environment variables, e.g. COACHRAG_EMBEDDINGS__API_KEY.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// requireUser validates the --user flag.
func requireUser(user string) error {
	if user == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
