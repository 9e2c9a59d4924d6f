package feed

import (
	"context"
	"strconv"
)

// Backend status codes carried in every page envelope.
const (
	// StatusOK marks a successful response.
	StatusOK = 0

	// DefaultNoMoreDataStatus is the status the backend uses to signal that a
	// list is exhausted.
	DefaultNoMoreDataStatus = 10004
)

// Cursor is the pagination token: the id of the last item already held.
// Zero means the start of the feed.
type Cursor int64

// String formats the cursor as a decimal id.
func (c Cursor) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// IsStart reports whether the cursor points at the start of the feed.
func (c Cursor) IsStart() bool {
	return c <= 0
}

// Item is a list element with a monotonically increasing numeric id.
type Item interface {
	ItemID() int64
}

// PageRequest identifies the page a fetch should return.
type PageRequest struct {
	// Parent is the resource the list belongs to (user id, feed id, search
	// keyword). Empty for global lists.
	Parent string

	// Cursor is the id of the last item already loaded.
	Cursor Cursor

	// PageIndex is the number of pages loaded so far, for endpoints that
	// page by number instead of by id.
	PageIndex int
}

// Page is one batch of items returned by a fetch.
type Page[T Item] struct {
	Items   []T
	Status  int
	Message string
}

// Last returns the cursor pointing at the last item of the page, or ok=false
// for an empty page.
func (p Page[T]) Last() (Cursor, bool) {
	if len(p.Items) == 0 {
		return 0, false
	}
	return Cursor(p.Items[len(p.Items)-1].ItemID()), true
}

// Fetcher loads a single page of a list.
type Fetcher[T Item] interface {
	FetchPage(ctx context.Context, req PageRequest) (Page[T], error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[T Item] func(ctx context.Context, req PageRequest) (Page[T], error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, req PageRequest) (Page[T], error) {
	return f(ctx, req)
}

// Snapshot persists list contents so a loader can be seeded before the first
// network refresh.
type Snapshot[T Item] interface {
	Replace(ctx context.Context, list string, items []T) error
	Append(ctx context.Context, list string, items []T) error
}
