// Package api binds the GifFun backend endpoints to typed Go calls.
//
// List endpoints are exposed as feed.Fetcher values so they can drive a
// feed.Loader or a pagination.BatchFetcher:
//
//	loader := feed.NewLoader(ctx, eventLoop, api.WorldFeeds(c), feed.DefaultConfig())
//
// The single-shot actions (like, comment, follow, report) live on Service.
// They return *client.StatusError when the backend answers with a non-zero
// status and invalidate cached list responses they make stale.
package api
