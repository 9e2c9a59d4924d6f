//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/giffun-client/internal/testutil"
	"github.com/Sternrassler/giffun-client/pkg/api"
	"github.com/Sternrassler/giffun-client/pkg/cache"
	"github.com/Sternrassler/giffun-client/pkg/client"
	"github.com/Sternrassler/giffun-client/pkg/feed"
	"github.com/Sternrassler/giffun-client/pkg/logging"
	"github.com/Sternrassler/giffun-client/pkg/loop"
	"github.com/Sternrassler/giffun-client/pkg/ratelimit"
	"github.com/Sternrassler/giffun-client/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newClient builds a logged-in client against the mock backend.
func newClient(t *testing.T, redisClient *redis.Client, mock *testutil.MockBackend) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(redisClient, mock.URL())
	cfg.DeviceSerial = "it-device"
	cfg.MaxRetries = 3
	cfg.InitialBackoff = 10 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	c.SetSession(client.Session{UserID: 42, Token: "it-token"})
	return c
}

func feedItem(id int64) any {
	return map[string]any{"feed_id": id, "nickname": "tony", "content": "gif", "gif": "https://img/x.gif?sig=1"}
}

// TestFullLoadFlow drives a Loader through refresh and load-more until the
// backend reports no more data, with the snapshot kept in SQLite.
func TestFullLoadFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetHandler(api.PathWorldFeeds, testutil.NewPagedHandler(api.ParamLastFeed, []int64{10, 9, 8, 7, 6}, 2, feedItem))

	c := newClient(t, redisClient, mock)

	snapshots, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer snapshots.Close()
	snap := store.For[api.Feed](snapshots)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ui := loop.New(0, logging.NewLogger("integration"))
	go ui.Run(ctx)
	defer ui.Stop()

	cfg := feed.DefaultConfig()
	cfg.List = "world"

	settled := make(chan feed.LoadState, 8)
	var (
		loader  *feed.Loader[api.Feed]
		started bool
	)
	require.NoError(t, ui.Call(ctx, func() {
		loader = feed.NewLoader(ctx, ui, api.WorldFeeds(c), cfg)
		loader.SetSnapshot(snap)
		loader.SetListener(func(ev feed.Event[api.Feed]) {
			if ev.State != feed.StateLoading {
				settled <- ev.State
			}
		})
		started = loader.Refresh()
	}))
	require.True(t, started)
	require.Equal(t, feed.StateIdle, <-settled)

	for {
		require.NoError(t, ui.Call(ctx, func() { started = loader.LoadMore() }))
		if !started {
			break
		}
		if state := <-settled; state == feed.StateNoMoreData {
			break
		}
	}

	var (
		ids   []int64
		state feed.LoadState
		pages int
	)
	require.NoError(t, ui.Call(ctx, func() {
		for _, f := range loader.Items() {
			ids = append(ids, f.FeedID)
		}
		state = loader.State()
		pages = loader.Pages()
	}))
	require.Equal(t, []int64{10, 9, 8, 7, 6}, ids)
	require.Equal(t, feed.StateNoMoreData, state)
	require.Equal(t, 3, pages)

	// The snapshot is written before the page reaches the loop.
	stored, err := snap.Load(ctx, "world")
	require.NoError(t, err)
	require.Len(t, stored, 5)
	require.Equal(t, "https://img/x.gif", stored[0].GIFKey())

	// Every GET went out signed with the session credentials.
	for _, r := range mock.Requests() {
		require.Equal(t, "42", r.Params.Get(client.ParamUserID))
		require.Equal(t, "it-device", r.Params.Get(client.ParamDeviceSerial))
		require.NotEmpty(t, r.Header.Get(client.HeaderVerify))
		require.Equal(t, client.DefaultUserAgent, r.Header.Get("User-Agent"))
	}
}

// TestNotModified tests 304 Not Modified responses use cached data.
func TestNotModified(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()

	body := testutil.Envelope(testutil.StatusOK, "ok", []any{feedItem(3), feedItem(2)})
	mock.SetHandler(api.PathHotFeeds, testutil.NewConditionalHandler(`"hot-1"`, body))

	c := newClient(t, redisClient, mock)
	ctx := context.Background()

	first, err := api.HotFeeds(c).FetchPage(ctx, feed.PageRequest{})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)

	second, err := api.HotFeeds(c).FetchPage(ctx, feed.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, first.Items, second.Items)

	require.Equal(t, 2, mock.RequestCount())
	require.Equal(t, 1, mock.ConditionalCount(), "second request revalidates with If-None-Match")
}

// TestCacheKeyedPerUser tests that another session does not revalidate
// against the first user's cached response.
func TestCacheKeyedPerUser(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetHandler(api.PathFollowingFeeds, testutil.NewConditionalHandler(`"f-1"`,
		testutil.Envelope(testutil.StatusOK, "ok", []any{feedItem(1)})))

	c := newClient(t, redisClient, mock)
	ctx := context.Background()

	_, err := api.FollowingFeeds(c).FetchPage(ctx, feed.PageRequest{})
	require.NoError(t, err)

	c.SetSession(client.Session{UserID: 43, Token: "other"})
	_, err = api.FollowingFeeds(c).FetchPage(ctx, feed.PageRequest{})
	require.NoError(t, err)

	require.Equal(t, 0, mock.ConditionalCount())

	_, err = c.Cache().Get(ctx, cache.CacheKey{Endpoint: api.PathFollowingFeeds, Params: url.Values{}, UserID: 42})
	require.NoError(t, err)
}

// TestRateLimitBlock tests that requests are blocked when rate limit is critical.
func TestRateLimitBlock(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()

	ctx := context.Background()

	// The tracker reads all three keys together.
	redisClient.Set(ctx, ratelimit.RedisKeyRemaining, ratelimit.ThresholdCritical-2, 0)
	redisClient.Set(ctx, ratelimit.RedisKeyResetTimestamp, time.Now().Add(60*time.Second).Unix(), 0)
	redisClient.Set(ctx, ratelimit.RedisKeyLastUpdate, time.Now().Format(time.RFC3339Nano), 0)

	c := newClient(t, redisClient, mock)

	_, err := api.WorldFeeds(c).FetchPage(ctx, feed.PageRequest{})
	require.ErrorIs(t, err, client.ErrRateLimited)
	require.Equal(t, 0, mock.RequestCount(), "blocked requests never reach the backend")
}

// TestRetry5xxErrors tests that GET requests are retried on server errors.
func TestRetry5xxErrors(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()

	var calls atomic.Int32
	mock.SetHandler(api.PathWorldFeeds, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, testutil.Envelope(testutil.StatusOK, "ok", []any{feedItem(1)}))
	})

	c := newClient(t, redisClient, mock)

	page, err := api.WorldFeeds(c).FetchPage(context.Background(), feed.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 3, mock.RequestCount())
}

// TestNoRetryPost tests that POST actions get exactly one attempt.
func TestNoRetryPost(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetResponse(api.PathLikeFeed, testutil.NewServerErrorResponse())

	c := newClient(t, redisClient, mock)
	svc := api.NewService(c, c.Cache(), "it-phone")

	err := svc.LikeFeed(context.Background(), 5)
	require.Error(t, err)
	require.Equal(t, 1, mock.RequestCount())
}

// TestActionInvalidatesCache tests that posting a comment drops cached
// comment pages so the next load is a full fetch.
func TestActionInvalidatesCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetHandler(api.PathComments, testutil.NewConditionalHandler(`"c-1"`,
		testutil.Envelope(testutil.StatusOK, "ok", []any{map[string]any{"comment_id": 1, "content": "nice"}})))

	c := newClient(t, redisClient, mock)
	svc := api.NewService(c, c.Cache(), "it-phone")
	ctx := context.Background()
	req := feed.PageRequest{Parent: "99"}

	_, err := api.Comments(c).FetchPage(ctx, req)
	require.NoError(t, err)

	require.NoError(t, svc.PostComment(ctx, 99, "me too"))

	post, ok := mock.LastRequest()
	require.True(t, ok)
	require.Equal(t, http.MethodPost, post.Method)
	require.Equal(t, "me too", post.Params.Get(api.ParamContent))

	_, err = api.Comments(c).FetchPage(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 0, mock.ConditionalCount(), "invalidated page is fetched without a validator")
}

// TestSessionExpired tests that an expired session surfaces as a status error.
func TestSessionExpired(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetEnvelope(api.PathFeedDetails, testutil.StatusSessionExpired, "token expired", nil)

	c := newClient(t, redisClient, mock)
	svc := api.NewService(c, c.Cache(), "it-phone")

	_, err := svc.FeedDetails(context.Background(), 5)
	var statusErr *client.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.True(t, statusErr.SessionExpired())
}
