package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/Sternrassler/giffun-client/pkg/api"
	"github.com/Sternrassler/giffun-client/pkg/pagination"
	"github.com/spf13/cobra"
)

var commentsCmd = &cobra.Command{
	Use:   "comments <feed-id>...",
	Short: "Fetch the first comment page of several feeds in parallel",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runComments,
}

var commentsWorkers int

func init() {
	rootCmd.AddCommand(commentsCmd)

	commentsCmd.Flags().IntVar(&commentsWorkers, "workers", pagination.DefaultConfig().MaxConcurrency, "Parallel requests")
}

func runComments(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	for _, id := range args {
		if _, err := api.ParseID(id); err != nil {
			return err
		}
	}

	rdb, err := connectRedis(ctx, globalConfig.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	c, err := newClient(globalConfig, rdb)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := pagination.DefaultConfig()
	cfg.MaxConcurrency = commentsWorkers
	cfg.Timeout = globalConfig.Backend.Timeout

	byFeed, err := pagination.NewBatchFetcher(api.Comments(c), cfg).FetchFirstPages(ctx, args)
	printComments(cmd.OutOrStdout(), byFeed)
	return err
}

func printComments(w io.Writer, byFeed map[string][]api.Comment) {
	feeds := make([]string, 0, len(byFeed))
	for id := range byFeed {
		feeds = append(feeds, id)
	}
	sort.Strings(feeds)

	for _, id := range feeds {
		comments := byFeed[id]
		fmt.Fprintf(w, "feed %s: %d comments\n", id, len(comments))
		for _, cm := range comments {
			fmt.Fprintf(w, "  %d\t%s\t%s\n", cm.CommentID, cm.Nickname, cm.Content)
		}
	}
}
