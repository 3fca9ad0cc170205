package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/committrace/committrace/internal/models"
	"github.com/committrace/committrace/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored commits",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <commit-id>",
	Short: "Show one commit, its files, and its analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	listCmd.Flags().String("repo", "", "filter by repository name")
	listCmd.Flags().String("author", "", "filter by author name")
	listCmd.Flags().String("status", "", "filter by status: pending, processed, failed")
	listCmd.Flags().String("since", "", "only commits on or after this date (YYYY-MM-DD)")
	listCmd.Flags().String("until", "", "only commits before this date (YYYY-MM-DD)")
	listCmd.Flags().Int("page", 1, "page number")
	listCmd.Flags().Int("size", 50, "page size")

	showCmd.Flags().Bool("diff", false, "include raw diff text")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repo, _ := cmd.Flags().GetString("repo")
	author, _ := cmd.Flags().GetString("author")
	status, _ := cmd.Flags().GetString("status")
	page, _ := cmd.Flags().GetInt("page")
	size, _ := cmd.Flags().GetInt("size")

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

	filter := store.Filter{
		Repository: repo,
		Author:     author,
		Status:     models.Status(status),
		Since:      since,
		Until:      until,
	}
	commits, total, err := svc.ListCommits(ctx, filter, store.Page{Number: page, Size: size})
	if err != nil {
		return err
	}

	fmt.Printf("%d commits (showing %d)\n", total, len(commits))
	for _, c := range commits {
		fmt.Printf("%s  %-10s  %-8s  %-8s  %s  %s\n",
			c.ID, shortHash(c.CommitHash), c.Status, c.RiskTier,
			c.CommitDate.Format("2006-01-02"), c.Message)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	includeDiff, _ := cmd.Flags().GetBool("diff")

	svc, cleanup, err := newService()
	if err != nil {
		return err
	}
	defer cleanup()

	commit, files, err := svc.GetCommit(ctx, args[0], includeDiff)
	if err != nil {
		return err
	}

	out := struct {
		Commit *models.Commit       `json:"commit"`
		Files  []*models.FileChange `json:"files,omitempty"`
	}{commit, files}
	return printJSON(out)
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func shortHash(hash string) string {
	if len(hash) > 10 {
		return hash[:10]
	}
	return hash
}
