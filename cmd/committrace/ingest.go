package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/committrace/committrace/internal/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest commits from a webhook payload or local-scan descriptor",
	Long: `Ingest commit events into the pipeline.

The input is a JSON document read from --file (or stdin when --file is
"-"): a push payload for --origin webhook, or a single commit
descriptor for --origin local.

Examples:
  committrace ingest --origin webhook --file push.json
  git-scan | committrace ingest --origin local --file -`,
	RunE: runIngestCmd,
}

func init() {
	ingestCmd.Flags().String("origin", "webhook", "input origin: webhook or local")
	ingestCmd.Flags().String("file", "-", "input JSON file, - for stdin")
}

func runIngestCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	origin, _ := cmd.Flags().GetString("origin")
	file, _ := cmd.Flags().GetString("file")

	data, err := readInput(file)
	if err != nil {
		return err
	}

	svc, cleanup, err := newService()
	if err != nil {
		return err
	}
	defer cleanup()

	var summary *models.IngestionSummary
	switch origin {
	case "webhook":
		var payload models.WebhookPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parsing webhook payload: %w", err)
		}
		summary, err = svc.IngestWebhook(ctx, &payload)
	case "local":
		var lc models.LocalCommit
		if err := json.Unmarshal(data, &lc); err != nil {
			return fmt.Errorf("parsing local commit descriptor: %w", err)
		}
		summary, err = svc.IngestLocal(ctx, &lc)
	default:
		return fmt.Errorf("unknown origin %q, expected webhook or local", origin)
	}
	if err != nil {
		return err
	}

	return printJSON(summary)
}

func readInput(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
