package pagination

import (
	"context"
	"fmt"

	"github.com/Sternrassler/giffun-client/pkg/feed"
)

// Walk follows the cursor of one list for at most maxPages pages and
// returns the items in order. It stops early once the list is exhausted.
// On failure the items read so far are returned with the error.
func Walk[T feed.Item](ctx context.Context, fetcher feed.Fetcher[T], parent string, maxPages, noMoreDataStatus int) ([]T, error) {
	if noMoreDataStatus == feed.StatusOK {
		noMoreDataStatus = feed.DefaultNoMoreDataStatus
	}

	var (
		all    []T
		cursor feed.Cursor
	)
	for page := 0; page < maxPages; page++ {
		p, err := fetcher.FetchPage(ctx, feed.PageRequest{
			Parent:    parent,
			Cursor:    cursor,
			PageIndex: page,
		})
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		if p.Status == noMoreDataStatus {
			break
		}
		if p.Status != feed.StatusOK {
			return all, fmt.Errorf("page %d: %w", page, &feed.StatusError{Status: p.Status, Message: p.Message})
		}

		last, ok := p.Last()
		if !ok {
			break
		}
		all = append(all, p.Items...)
		cursor = last
	}
	return all, nil
}
