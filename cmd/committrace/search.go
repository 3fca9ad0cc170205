package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/committrace/committrace/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over stored commits",
	Long: `Search commit messages, diff content, and author names. Message
matches rank above diff matches, which rank above author matches.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("repo", "", "filter by repository name")
	searchCmd.Flags().String("author", "", "filter by author name")
	searchCmd.Flags().Int("limit", 20, "maximum results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repo, _ := cmd.Flags().GetString("repo")
	author, _ := cmd.Flags().GetString("author")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	svc, cleanup, err := newService()
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := svc.SearchCommits(ctx, query, store.Filter{Repository: repo, Author: author}, limit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%6.2f  %s  %-10s  %s  %s\n",
			r.Rank, r.CommitID, shortHash(r.CommitHash), r.AuthorName, r.Message)
	}
	return nil
}
