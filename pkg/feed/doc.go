// Package feed implements cursor-paginated list loading with an
// infinite-scroll trigger.
//
// A Loader owns one list. It walks the backend with a Cursor (the id of the
// last item it holds, 0 for the start of the feed) and tracks a LoadState:
//
//	Idle --trigger--> Loading --ok--> Idle
//	                     |----error--> Failed      --retry--> Loading
//	                     `--exhausted-> NoMoreData --retry--> Loading
//
// The Loading state is the gate that keeps at most one fetch in flight. All
// Loader methods run on a single event loop (package loop); fetches run on
// background goroutines and post their result back exactly once. A closed
// Loader ignores results that arrive late instead of cancelling them.
//
// Example usage:
//
//	l := loop.New(0, logger)
//	go l.Run(ctx)
//
//	loader := feed.NewLoader[api.Feed](ctx, l, api.WorldFeeds(c), feed.DefaultConfig())
//	loader.SetListener(func(ev feed.Event[api.Feed]) { render(ev) })
//
//	l.Post(func() { loader.Refresh() })
//	// later, from a scroll callback running on the loop:
//	l.Post(func() { loader.OnScrolled(total, visible, first, dy) })
package feed
