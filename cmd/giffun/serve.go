package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/api"
	"github.com/Sternrassler/giffun-client/pkg/client"
	"github.com/Sternrassler/giffun-client/pkg/feed"
	"github.com/Sternrassler/giffun-client/pkg/metrics"
	"github.com/Sternrassler/giffun-client/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching feed proxy",
	Long: `Serve /feeds/<kind> through the shared cache and rate limit.

Query parameters: parent, cursor, page and pages. pages > 1 walks that many
pages from the start of the list into one response. Also serves /health, /ready and
/metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := globalConfig

	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	c, err := newClient(cfg, rdb)
	if err != nil {
		return err
	}
	defer c.Close()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           newMux(rdb, c, cfg.HTTP.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("backend", cfg.Backend.BaseURL).
			Msg("Starting feed proxy")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down feed proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newMux(rdb *redis.Client, c *client.Client, timeout time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(rdb))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/feeds/", feedsHandler(c, timeout))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while Redis is unreachable.
func readyHandler(rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// pageBody is the proxy's response, shaped like the backend envelope.
type pageBody[T feed.Item] struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   []T    `json:"data"`
	Cursor int64  `json:"cursor,omitempty"`
}

func feedsHandler(c *client.Client, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		kind := strings.Trim(strings.TrimPrefix(r.URL.Path, "/feeds/"), "/")
		req, err := pageRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pages, err := pageCount(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		switch kind {
		case kindComments:
			serveList(ctx, w, api.Comments(c), req, pages)
		case kindFollowings:
			serveList(ctx, w, api.Followings(c), req, pages)
		default:
			fetcher, err := api.FeedFetcher(c, api.Kind(kind))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			serveList(ctx, w, fetcher, req, pages)
		}
	}
}

func pageCount(r *http.Request) (int, error) {
	v := r.URL.Query().Get("pages")
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxWalkPages {
		return 0, fmt.Errorf("invalid pages %q (1-%d)", v, maxWalkPages)
	}
	return n, nil
}

// maxWalkPages caps a single proxied walk.
const maxWalkPages = 20

func serveList[T feed.Item](ctx context.Context, w http.ResponseWriter, fetcher feed.Fetcher[T], req feed.PageRequest, pages int) {
	if pages <= 1 {
		servePage(ctx, w, fetcher, req)
		return
	}

	items, err := pagination.Walk(ctx, fetcher, req.Parent, pages, feed.DefaultNoMoreDataStatus)
	if err != nil && len(items) == 0 {
		writeFetchError(w, req, err)
		return
	}
	if err != nil {
		log.Warn().Err(err).Int("items", len(items)).Msg("Walk stopped early, returning partial list")
	}

	body := pageBody[T]{Status: client.StatusOK, Msg: "ok", Data: items}
	if body.Data == nil {
		body.Data = []T{}
	}
	if n := len(items); n > 0 {
		body.Cursor = items[n-1].ItemID()
	}
	writePage(w, body)
}

func pageRequest(r *http.Request) (feed.PageRequest, error) {
	q := r.URL.Query()
	req := feed.PageRequest{Parent: q.Get("parent")}

	if v := q.Get("cursor"); v != "" {
		cursor, err := strconv.ParseInt(v, 10, 64)
		if err != nil || cursor < 0 {
			return req, fmt.Errorf("invalid cursor %q", v)
		}
		req.Cursor = feed.Cursor(cursor)
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			return req, fmt.Errorf("invalid page %q", v)
		}
		req.PageIndex = page
	}
	return req, nil
}

func servePage[T feed.Item](ctx context.Context, w http.ResponseWriter, fetcher feed.Fetcher[T], req feed.PageRequest) {
	page, err := fetcher.FetchPage(ctx, req)
	if err != nil {
		writeFetchError(w, req, err)
		return
	}

	body := pageBody[T]{Status: page.Status, Msg: page.Message, Data: page.Items}
	if body.Data == nil {
		body.Data = []T{}
	}
	if last, ok := page.Last(); ok {
		body.Cursor = int64(last)
	}
	writePage(w, body)
}

func writePage[T feed.Item](w http.ResponseWriter, body pageBody[T]) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeFetchError(w http.ResponseWriter, req feed.PageRequest, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, api.ErrInvalidParent):
		status = http.StatusBadRequest
	case errors.Is(err, client.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	log.Warn().Err(err).Str("parent", req.Parent).Int("status", status).Msg("Proxy fetch failed")
	http.Error(w, fmt.Sprintf("backend request failed: %v", err), status)
}
