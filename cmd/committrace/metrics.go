package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/committrace/committrace/internal/store"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Aggregate productivity metrics over a commit window",
	RunE:  runMetrics,
}

func init() {
	metricsCmd.Flags().String("repo", "", "filter by repository name")
	metricsCmd.Flags().String("author", "", "filter by author name")
	metricsCmd.Flags().String("since", "", "window start date (YYYY-MM-DD)")
	metricsCmd.Flags().String("until", "", "window end date (YYYY-MM-DD)")
	metricsCmd.Flags().Bool("window", false, "also show recent-activity window stats (requires --repo)")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repo, _ := cmd.Flags().GetString("repo")
	author, _ := cmd.Flags().GetString("author")
	window, _ := cmd.Flags().GetBool("window")

	since, err := parseDate(mustString(cmd, "since"))
	if err != nil {
		return err
	}
	until, err := parseDate(mustString(cmd, "until"))
	if err != nil {
		return err
	}

	svc, cleanup, err := newService()
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := svc.GetMetrics(ctx, store.Filter{
		Repository: repo,
		Author:     author,
		Since:      since,
		Until:      until,
	})
	if err != nil {
		return err
	}
	if err := printJSON(m); err != nil {
		return err
	}

	if window && repo != "" {
		stats, err := svc.GetWindowStats(ctx, repo)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}
	return nil
}
