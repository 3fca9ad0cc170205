package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay-failed",
	Short: "Replay analysis and index steps queued after transient failures",
	Long: `Drain the durable retry queue. Each due task re-enters the pipeline
at the step that failed; storage is already durable for these commits,
so replay never creates duplicate records.`,
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, cleanup, err := newService()
	if err != nil {
		return err
	}
	defer cleanup()

	replayed, err := svc.ReplayFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Replayed %d task(s)\n", replayed)
	return nil
}
