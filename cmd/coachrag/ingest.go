package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coachrag/internal/records"
)

// maxDocumentBytes caps a single ingested document.
const maxDocumentBytes = 10 * 1024 * 1024

var (
	ingestUser       string
	ingestFile       string
	ingestDocumentID string
	ingestTitle      string
	ingestQuestion   string
	ingestSource     string
	ingestOutputJSON bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Chunk and store a feedback document for a user",
	Long: `Ingest splits a document into overlapping chunks and stores one record
per chunk, tagged with the owning user.

Examples:
  # Ingest a file
  coachrag ingest --user alice --file feedback.txt --title "Q3 review"

  # Ingest from stdin
  cat notes.txt | coachrag ingest --user alice

  # Attach the question the feedback answers
  coachrag ingest --user alice --file answer.txt --question "How do I run 1:1s?"`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "owning user ID (required)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "-", "document file, or - for stdin")
	ingestCmd.Flags().StringVar(&ingestDocumentID, "document-id", "", "document identifier (default derived from the document key)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestQuestion, "question", "", "question the document answers")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "document source")
	ingestCmd.Flags().BoolVar(&ingestOutputJSON, "json", false, "output as JSON")
}

type ingestResult struct {
	UserID string `json:"userId"`
	Chunks int    `json:"chunks"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireUser(ingestUser); err != nil {
		return err
	}

	text, err := readDocument(ingestFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document is empty")
	}

	return withDependencies(cmd.Context(), "ingest", func(ctx context.Context, deps *dependencies) error {
		session, err := deps.svc.Initialize(ctx, ingestUser)
		if err != nil {
			return err
		}
		n, err := session.IngestDocument(ctx, text, records.DocumentMetadata{
			DocumentID: ingestDocumentID,
			Title:      ingestTitle,
			Question:   ingestQuestion,
			Source:     ingestSource,
		})
		if err != nil {
			return fmt.Errorf("failed to ingest document: %w", err)
		}

		out := cmd.OutOrStdout()
		if ingestOutputJSON {
			return outputJSON(out, ingestResult{UserID: ingestUser, Chunks: n})
		}
		fmt.Fprintf(out, "Stored %d chunk(s) for user %s\n", n, ingestUser)
		return nil
	})
}

// readDocument reads path, or r when path is "-" or empty.
func readDocument(path string, r io.Reader) (string, error) {
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open document: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return "", fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)
	}
	return string(data), nil
}
