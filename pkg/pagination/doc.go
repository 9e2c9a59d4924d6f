// Package pagination fetches several pages without a Loader.
//
// BatchFetcher loads the first page of many lists in parallel with a worker
// pool, which is how a detail screen warms the comment lists of the feeds it
// shows:
//
//	bf := pagination.NewBatchFetcher(api.Comments(c), pagination.DefaultConfig())
//	byFeed, err := bf.FetchFirstPages(ctx, []string{"101", "102", "103"})
//
// Failures do not stop the other workers. The parents that succeeded are
// returned together with the first error.
//
// Walk follows a single cursor sequentially; pages of one list cannot be
// fetched in parallel because each cursor comes from the previous page.
package pagination
