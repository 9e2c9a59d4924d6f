package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/giffun-client/pkg/api"
	"github.com/Sternrassler/giffun-client/pkg/feed"
	"github.com/Sternrassler/giffun-client/pkg/loop"
	"github.com/Sternrassler/giffun-client/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// List kinds served next to the feed kinds of package api.
const (
	kindComments   = "comments"
	kindFollowings = "followings"
)

var feedCmd = &cobra.Command{
	Use:   "feed <kind>",
	Short: "Page through a list",
	Long: `Page through a list with the infinite-scroll loader.

Kinds: world, hot, following, user, search, comments, followings.
user and followings take a user id as --parent, comments a feed id and
search a keyword.`,
	Args: cobra.ExactArgs(1),
	RunE: runFeed,
}

var (
	feedParent string
	feedPages  int
	feedJSON   bool
)

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().StringVar(&feedParent, "parent", "", "Parent id or search keyword")
	feedCmd.Flags().IntVar(&feedPages, "pages", 3, "Maximum number of pages to load")
	feedCmd.Flags().BoolVar(&feedJSON, "json", false, "Print items as JSON lines")
}

func runFeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	kind := strings.ToLower(args[0])
	if feedPages < 1 {
		return fmt.Errorf("--pages must be at least 1")
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

	var snapshots *store.Store
	if globalConfig.Store.Path != "" {
		snapshots, err = store.Open(globalConfig.Store.Path)
		if err != nil {
			return err
		}
		defer snapshots.Close()
	}

	opts := walkOptions{
		list:   listName(kind, feedParent),
		parent: feedParent,
		pages:  feedPages,
	}
	out := cmd.OutOrStdout()

	var res walkResult
	switch kind {
	case kindComments:
		res, err = walk(ctx, api.Comments(c), snapshotOf[api.Comment](snapshots), opts,
			printer(out, func(cm api.Comment) string {
				return fmt.Sprintf("%d\t%s\t%s", cm.CommentID, cm.Nickname, cm.Content)
			}))
	case kindFollowings:
		res, err = walk(ctx, api.Followings(c), snapshotOf[api.User](snapshots), opts,
			printer(out, func(u api.User) string {
				return fmt.Sprintf("%d\t%s\t%d followers", u.UserID, u.Nickname, u.FollowersCount)
			}))
	default:
		fetcher, ferr := api.FeedFetcher(c, api.Kind(kind))
		if ferr != nil {
			return ferr
		}
		res, err = walk(ctx, fetcher, snapshotOf[api.Feed](snapshots), opts,
			printer(out, func(f api.Feed) string {
				return fmt.Sprintf("%d\t%s\t%s\t%s", f.FeedID, f.Nickname, f.Content, f.GIFKey())
			}))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d items in %d pages, cursor %s, state %s\n",
		res.items, res.pages, res.cursor, res.state)
	return nil
}

// listName keys a list in the snapshot store.
func listName(kind, parent string) string {
	if parent == "" {
		return kind
	}
	return kind + ":" + parent
}

func snapshotOf[T feed.Item](s *store.Store) *store.Snapshot[T] {
	if s == nil {
		return nil
	}
	return store.For[T](s)
}

func printer[T any](w io.Writer, text func(T) string) func(T) {
	if feedJSON {
		enc := json.NewEncoder(w)
		return func(item T) { enc.Encode(item) }
	}
	return func(item T) { fmt.Fprintln(w, text(item)) }
}

type walkOptions struct {
	list   string
	parent string
	pages  int
}

type walkResult struct {
	items  int
	pages  int
	cursor feed.Cursor
	state  feed.LoadState
}

// walk drives a loader on its own event loop: one refresh followed by
// load-more calls until opts.pages pages arrived or the list ran out. With a
// snapshot the loader is seeded from it first and every page is stored.
func walk[T feed.Item](ctx context.Context, fetcher feed.Fetcher[T], snap *store.Snapshot[T], opts walkOptions, print func(T)) (walkResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ev := loop.New(0, log.Logger)
	go ev.Run(runCtx)
	defer ev.Stop()

	var seed []T
	if snap != nil {
		items, err := snap.Load(ctx, opts.list)
		if err != nil {
			log.Warn().Err(err).Str("list", opts.list).Msg("Failed to read list snapshot")
		}
		seed = items
	}

	// At most one fetch is in flight, so one slot is enough.
	settled := make(chan feed.Event[T], 1)

	cfg := feed.DefaultConfig()
	cfg.List = opts.list
	cfg.Parent = opts.parent

	var loader *feed.Loader[T]
	if err := ev.Call(ctx, func() {
		loader = feed.NewLoader(runCtx, ev, fetcher, cfg)
		if snap != nil {
			loader.SetSnapshot(snap)
		}
		if len(seed) > 0 {
			loader.Seed(seed)
		}
		loader.SetListener(func(e feed.Event[T]) {
			if e.State != feed.StateLoading {
				settled <- e
			}
		})
	}); err != nil {
		return walkResult{}, err
	}
	defer loader.Close()

	if len(seed) > 0 {
		log.Info().Int("items", len(seed)).Str("list", opts.list).Msg("Seeded from snapshot")
	}

	for page := 0; page < opts.pages; page++ {
		var started bool
		if err := ev.Call(ctx, func() {
			if page == 0 {
				started = loader.Refresh()
			} else {
				started = loader.LoadMore()
			}
		}); err != nil {
			return walkResult{}, err
		}
		if !started {
			break
		}

		var e feed.Event[T]
		select {
		case e = <-settled:
		case <-ctx.Done():
			return walkResult{}, ctx.Err()
		}

		for _, item := range e.Items {
			print(item)
		}
		if e.State == feed.StateFailed {
			return walkResult{}, fmt.Errorf("load page %d: %w", page+1, e.Err)
		}
		if e.State == feed.StateNoMoreData {
			break
		}
	}

	var res walkResult
	err := ev.Call(ctx, func() {
		res = walkResult{
			items:  loader.Len(),
			pages:  loader.Pages(),
			cursor: loader.Cursor(),
			state:  loader.State(),
		}
	})
	return res, err
}
