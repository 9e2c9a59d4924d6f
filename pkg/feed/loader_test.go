package feed

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/loop"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testItem struct {
	ID int64
}

func (i testItem) ItemID() int64 { return i.ID }

func items(ids ...int64) []testItem {
	out := make([]testItem, len(ids))
	for i, id := range ids {
		out[i] = testItem{ID: id}
	}
	return out
}

type reply struct {
	page Page[testItem]
	err  error
}

// fakeFetcher blocks every fetch until the test sends a reply.
type fakeFetcher struct {
	mu       sync.Mutex
	requests []PageRequest
	replies  chan reply
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{replies: make(chan reply)}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req PageRequest) (Page[testItem], error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	r := <-f.replies
	return r.page, r.err
}

func (f *fakeFetcher) Requests() []PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PageRequest(nil), f.requests...)
}

type fakeSnapshot struct {
	mu       sync.Mutex
	replaced map[string][]testItem
	appended map[string][]testItem
}

func newFakeSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		replaced: map[string][]testItem{},
		appended: map[string][]testItem{},
	}
}

func (s *fakeSnapshot) Replace(ctx context.Context, list string, it []testItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced[list] = append([]testItem(nil), it...)
	return nil
}

func (s *fakeSnapshot) Append(ctx context.Context, list string, it []testItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended[list] = append(s.appended[list], it...)
	return nil
}

type harness struct {
	t       *testing.T
	loop    *loop.Loop
	loader  *Loader[testItem]
	fetcher *fakeFetcher
	events  chan Event[testItem]
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	l := loop.New(0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	f := newFakeFetcher()
	h := &harness{
		t:       t,
		loop:    l,
		fetcher: f,
		events:  make(chan Event[testItem], 64),
	}
	h.loader = NewLoader[testItem](context.Background(), l, f, cfg)
	h.loader.SetLogger(zerolog.Nop())
	h.loader.SetListener(func(ev Event[testItem]) { h.events <- ev })
	return h
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func(l *Loader[testItem])) {
	h.t.Helper()
	if err := h.loop.Call(context.Background(), func() { fn(h.loader) }); err != nil {
		h.t.Fatalf("loop call failed: %v", err)
	}
}

func (h *harness) trigger(fn func(l *Loader[testItem]) bool) bool {
	h.t.Helper()
	var ok bool
	h.do(func(l *Loader[testItem]) { ok = fn(l) })
	return ok
}

func (h *harness) nextEvent() Event[testItem] {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for loader event")
		return Event[testItem]{}
	}
}

// respond answers the in-flight fetch and waits for the resulting event.
func (h *harness) respond(page Page[testItem], err error) Event[testItem] {
	h.t.Helper()
	select {
	case h.fetcher.replies <- reply{page: page, err: err}:
	case <-time.After(2 * time.Second):
		h.t.Fatal("no fetch in flight")
	}
	return h.nextEvent()
}

// startAndRespond triggers fn, expects the Loading event and answers it.
func (h *harness) startAndRespond(fn func(l *Loader[testItem]) bool, page Page[testItem], err error) Event[testItem] {
	h.t.Helper()
	if !h.trigger(fn) {
		h.t.Fatal("load request rejected")
	}
	if ev := h.nextEvent(); ev.State != StateLoading {
		h.t.Fatalf("first event state = %v, want loading", ev.State)
	}
	return h.respond(page, err)
}

func (h *harness) state() LoadState {
	var s LoadState
	h.do(func(l *Loader[testItem]) { s = l.State() })
	return s
}

func refresh(l *Loader[testItem]) bool  { return l.Refresh() }
func loadMore(l *Loader[testItem]) bool { return l.LoadMore() }
func retry(l *Loader[testItem]) bool    { return l.Retry() }

func TestLoader_RefreshReplacesAndAdvancesCursor(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	ev := h.startAndRespond(refresh, Page[testItem]{Items: items(3, 7, 12)}, nil)

	if ev.Kind != EventRefreshed || ev.State != StateIdle {
		t.Fatalf("event = %+v, want refreshed/idle", ev)
	}
	h.do(func(l *Loader[testItem]) {
		if l.Cursor() != 12 {
			t.Errorf("Cursor() = %d, want 12", l.Cursor())
		}
		if l.Len() != 3 {
			t.Errorf("Len() = %d, want 3", l.Len())
		}
		if l.Pages() != 1 {
			t.Errorf("Pages() = %d, want 1", l.Pages())
		}
	})

	reqs := h.fetcher.Requests()
	if len(reqs) != 1 || reqs[0].Cursor != 0 || reqs[0].PageIndex != 0 {
		t.Errorf("requests = %+v, want one start-of-feed request", reqs)
	}
}

func TestLoader_LoadMoreAppendsFromCursor(t *testing.T) {
	h := newHarness(t, Config{Parent: "42"})

	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2)}, nil)
	ev := h.startAndRespond(loadMore, Page[testItem]{Items: items(5, 9)}, nil)

	if ev.Kind != EventAppended || ev.Offset != 2 || len(ev.Items) != 2 {
		t.Fatalf("event = %+v, want 2 items appended at offset 2", ev)
	}

	h.do(func(l *Loader[testItem]) {
		got := l.Items()
		want := items(1, 2, 5, 9)
		require.Equal(t, want, got)
		require.Equal(t, Cursor(9), l.Cursor())
	})

	reqs := h.fetcher.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, PageRequest{Parent: "42", Cursor: 2, PageIndex: 1}, reqs[1])
}

func TestLoader_SingleFetchInFlight(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if !h.trigger(refresh) {
		t.Fatal("initial refresh rejected")
	}
	h.nextEvent()

	// Every kind of trigger is refused while the fetch is in flight.
	for i := 0; i < 20; i++ {
		if h.trigger(refresh) {
			t.Fatal("Refresh accepted while loading")
		}
		if h.trigger(loadMore) {
			t.Fatal("LoadMore accepted while loading")
		}
		if h.trigger(func(l *Loader[testItem]) bool { return l.OnScrolled(10, 10, 0, 5) }) {
			t.Fatal("OnScrolled accepted while loading")
		}
		if h.trigger(retry) {
			t.Fatal("Retry accepted while loading")
		}
	}

	h.respond(Page[testItem]{Items: items(1)}, nil)
	if n := len(h.fetcher.Requests()); n != 1 {
		t.Fatalf("dispatched %d fetches, want 1", n)
	}
	if s := h.state(); s != StateIdle {
		t.Errorf("state = %v, want idle", s)
	}
}

func TestLoader_ConcurrentTriggersDispatchOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.loop.Post(func() { h.loader.OnScrolled(0, 0, 0, 1) })
		}()
	}
	wg.Wait()
	h.do(func(*Loader[testItem]) {})

	// Each dispatched fetch emits exactly one Loading event on the loop.
	if ev := h.nextEvent(); ev.State != StateLoading {
		t.Fatalf("event state = %v, want loading", ev.State)
	}
	select {
	case ev := <-h.events:
		t.Fatalf("second fetch dispatched: %+v", ev)
	default:
	}

	h.respond(Page[testItem]{Items: items(4)}, nil)
	if n := len(h.fetcher.Requests()); n != 1 {
		t.Fatalf("dispatched %d fetches, want 1", n)
	}
}

func TestLoader_EmptyPageMeansNoMoreData(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2)}, nil)

	ev := h.startAndRespond(loadMore, Page[testItem]{}, nil)

	if ev.State != StateNoMoreData || !errors.Is(ev.Err, ErrNoMoreData) {
		t.Fatalf("event = %+v, want no_more_data", ev)
	}
	h.do(func(l *Loader[testItem]) {
		require.Equal(t, items(1, 2), l.Items())
		require.Equal(t, Cursor(2), l.Cursor())
		require.Equal(t, KindExhausted, Classify(l.Err()))
	})
}

func TestLoader_ExhaustionStatusAppendsNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1)}, nil)

	// Items carried with the exhaustion status are ignored.
	ev := h.startAndRespond(loadMore, Page[testItem]{Status: DefaultNoMoreDataStatus, Items: items(99)}, nil)

	require.Equal(t, StateNoMoreData, ev.State)
	h.do(func(l *Loader[testItem]) {
		require.Equal(t, items(1), l.Items())
	})

	// Scrolling no longer triggers once exhausted.
	if h.trigger(func(l *Loader[testItem]) bool { return l.OnScrolled(1, 1, 0, 10) }) {
		t.Error("OnScrolled triggered after no more data")
	}
	if h.trigger(loadMore) {
		t.Error("LoadMore accepted after no more data")
	}
}

func TestLoader_CustomExhaustionStatus(t *testing.T) {
	h := newHarness(t, Config{NoMoreDataStatus: 2001})

	ev := h.startAndRespond(refresh, Page[testItem]{Status: 2001}, nil)
	require.Equal(t, StateNoMoreData, ev.State)

	ev = h.startAndRespond(retry, Page[testItem]{Status: DefaultNoMoreDataStatus}, nil)
	require.Equal(t, StateFailed, ev.State)
	require.Equal(t, KindStatus, Classify(ev.Err))
}

func TestLoader_StatusFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	ev := h.startAndRespond(refresh, Page[testItem]{Status: 19000, Message: "unknown"}, nil)

	require.Equal(t, StateFailed, ev.State)
	var se *StatusError
	require.ErrorAs(t, ev.Err, &se)
	require.Equal(t, 19000, se.Status)
	require.Equal(t, "unknown", se.Message)
}

func TestLoader_RetryAfterFailureKeepsCursor(t *testing.T) {
	h := newHarness(t, Config{Parent: "feed-7"})
	h.startAndRespond(refresh, Page[testItem]{Items: items(10, 20)}, nil)

	ev := h.startAndRespond(loadMore, Page[testItem]{}, errors.New("connection reset"))
	require.Equal(t, StateFailed, ev.State)
	require.Equal(t, KindTransport, Classify(ev.Err))

	h.do(func(l *Loader[testItem]) {
		require.Equal(t, Cursor(20), l.Cursor())
		require.Len(t, l.Items(), 2)
	})

	ev = h.startAndRespond(retry, Page[testItem]{Items: items(30)}, nil)
	require.Equal(t, EventAppended, ev.Kind)

	reqs := h.fetcher.Requests()
	require.Len(t, reqs, 3)
	require.Equal(t, reqs[1], reqs[2], "retry must repeat the failed request")

	h.do(func(l *Loader[testItem]) {
		require.Equal(t, items(10, 20, 30), l.Items())
	})
}

func TestLoader_RetryRepeatsFailedRefresh(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2, 3)}, nil)

	h.startAndRespond(refresh, Page[testItem]{}, errors.New("timeout"))
	ev := h.startAndRespond(retry, Page[testItem]{Items: items(4, 5)}, nil)

	require.Equal(t, EventRefreshed, ev.Kind)
	reqs := h.fetcher.Requests()
	require.Equal(t, Cursor(0), reqs[2].Cursor)
	h.do(func(l *Loader[testItem]) {
		require.Equal(t, items(4, 5), l.Items())
	})
}

func TestLoader_TriggerRecoversFromFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1)}, nil)
	h.startAndRespond(loadMore, Page[testItem]{}, errors.New("offline"))

	ev := h.startAndRespond(func(l *Loader[testItem]) bool { return l.OnScrolled(1, 1, 0, 3) },
		Page[testItem]{Items: items(2)}, nil)
	require.Equal(t, StateIdle, ev.State)
}

func TestLoader_RetryNotAllowedWhenIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if h.trigger(retry) {
		t.Error("Retry accepted in idle state")
	}
}

func TestLoader_OnScrolledIgnoresUpwardScrollAndFarWindow(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)}, nil)

	if h.trigger(func(l *Loader[testItem]) bool { return l.OnScrolled(10, 3, 7, -4) }) {
		t.Error("upward scroll triggered a load")
	}
	if h.trigger(func(l *Loader[testItem]) bool { return l.OnScrolled(10, 3, 2, 4) }) {
		t.Error("scroll far from the end triggered a load")
	}
	if n := len(h.fetcher.Requests()); n != 1 {
		t.Errorf("dispatched %d fetches, want 1", n)
	}
}

func TestLoader_RefreshFromNoMoreData(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1)}, nil)
	h.startAndRespond(loadMore, Page[testItem]{}, nil)

	ev := h.startAndRespond(refresh, Page[testItem]{Items: items(5, 6)}, nil)
	require.Equal(t, StateIdle, ev.State)
	h.do(func(l *Loader[testItem]) {
		require.Equal(t, Cursor(6), l.Cursor())
		require.Equal(t, 1, l.Pages())
	})
}

func TestLoader_CloseIgnoresLateResult(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1)}, nil)

	if !h.trigger(loadMore) {
		t.Fatal("LoadMore rejected")
	}
	h.nextEvent()
	h.do(func(l *Loader[testItem]) { l.Close() })

	before := testutil.ToFloat64(LateResults)
	h.fetcher.replies <- reply{page: Page[testItem]{Items: items(2, 3)}}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(LateResults) > before
	}, 2*time.Second, 5*time.Millisecond)

	h.do(func(l *Loader[testItem]) {
		require.Equal(t, items(1), l.Items())
		require.Equal(t, StateLoading, l.State())
		require.False(t, l.Refresh())
	})
	select {
	case ev := <-h.events:
		t.Errorf("unexpected event after close: %+v", ev)
	default:
	}
}

func TestLoader_SeedSetsCursor(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.do(func(l *Loader[testItem]) {
		require.True(t, l.Seed(items(4, 8)))
		require.Equal(t, Cursor(8), l.Cursor())
	})
	ev := h.nextEvent()
	require.Equal(t, EventRefreshed, ev.Kind)

	h.startAndRespond(loadMore, Page[testItem]{Items: items(9)}, nil)
	reqs := h.fetcher.Requests()
	require.Equal(t, Cursor(8), reqs[0].Cursor)
	require.Equal(t, 1, reqs[0].PageIndex)
}

func TestLoader_EmptyRefreshClearsList(t *testing.T) {
	h := newHarness(t, Config{List: "world"})
	snap := newFakeSnapshot()
	h.do(func(l *Loader[testItem]) { l.SetSnapshot(snap) })

	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2, 3)}, nil)
	ev := h.startAndRespond(refresh, Page[testItem]{}, nil)

	require.Equal(t, EventRefreshed, ev.Kind)
	require.Equal(t, StateNoMoreData, ev.State)
	require.Empty(t, ev.Items)
	h.do(func(l *Loader[testItem]) {
		require.Zero(t, l.Len())
		require.Equal(t, Cursor(0), l.Cursor())
		require.Zero(t, l.Pages())
	})

	snap.mu.Lock()
	stored, ok := snap.replaced["world"]
	snap.mu.Unlock()
	require.True(t, ok)
	require.Empty(t, stored)

	// The next refresh starts over from the beginning.
	h.startAndRespond(refresh, Page[testItem]{Items: items(7)}, nil)
	require.Equal(t, Cursor(0), h.fetcher.Requests()[2].Cursor)
	h.do(func(l *Loader[testItem]) { require.Equal(t, items(7), l.Items()) })
}

func TestLoader_SeedRejectedUnlessIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2)}, nil)
	h.startAndRespond(loadMore, Page[testItem]{}, errors.New("timeout"))

	h.do(func(l *Loader[testItem]) {
		require.Equal(t, StateFailed, l.State())
		require.False(t, l.Seed(items(10, 20, 30)))
		require.Equal(t, items(1, 2), l.Items())
		require.Equal(t, Cursor(2), l.Cursor())
	})

	ev := h.startAndRespond(retry, Page[testItem]{Items: items(3)}, nil)
	require.Equal(t, EventAppended, ev.Kind)
	require.Equal(t, Cursor(2), h.fetcher.Requests()[2].Cursor)
	h.do(func(l *Loader[testItem]) { require.Equal(t, items(1, 2, 3), l.Items()) })

	h.startAndRespond(loadMore, Page[testItem]{}, nil)
	h.do(func(l *Loader[testItem]) {
		require.Equal(t, StateNoMoreData, l.State())
		require.False(t, l.Seed(items(10)))
	})
}

func TestLoader_ClosedLoaderSkipsSnapshot(t *testing.T) {
	h := newHarness(t, Config{List: "world"})
	snap := newFakeSnapshot()
	h.do(func(l *Loader[testItem]) { l.SetSnapshot(snap) })

	if !h.trigger(refresh) {
		t.Fatal("Refresh rejected")
	}
	h.nextEvent()
	h.do(func(l *Loader[testItem]) { l.Close() })

	before := testutil.ToFloat64(LateResults)
	h.fetcher.replies <- reply{page: Page[testItem]{Items: items(7, 8)}}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(LateResults) > before
	}, 2*time.Second, 5*time.Millisecond)

	snap.mu.Lock()
	defer snap.mu.Unlock()
	require.Empty(t, snap.replaced)
	require.Empty(t, snap.appended)
}

func TestLoader_SetLoggerDuringFetch(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if !h.trigger(refresh) {
		t.Fatal("Refresh rejected")
	}
	h.nextEvent()

	var buf bytes.Buffer
	h.do(func(l *Loader[testItem]) { l.SetLogger(zerolog.New(&buf)) })
	h.respond(Page[testItem]{Items: items(1)}, nil)

	var logged string
	h.do(func(l *Loader[testItem]) { logged = buf.String() })
	require.Contains(t, logged, "Page loaded")
}

func TestLoader_SnapshotWrites(t *testing.T) {
	h := newHarness(t, Config{List: "world"})
	snap := newFakeSnapshot()
	h.do(func(l *Loader[testItem]) { l.SetSnapshot(snap) })

	h.startAndRespond(refresh, Page[testItem]{Items: items(1, 2)}, nil)
	h.startAndRespond(loadMore, Page[testItem]{Items: items(3)}, nil)
	h.startAndRespond(loadMore, Page[testItem]{}, nil)

	snap.mu.Lock()
	defer snap.mu.Unlock()
	require.Equal(t, items(1, 2), snap.replaced["world"])
	require.Equal(t, items(3), snap.appended["world"])
}

func TestNewLoader_Defaults(t *testing.T) {
	l := loop.New(1, zerolog.Nop())
	loader := NewLoader[testItem](context.Background(), l, FetcherFunc[testItem](
		func(ctx context.Context, req PageRequest) (Page[testItem], error) {
			return Page[testItem]{}, nil
		}), Config{Parent: "7"})

	require.Equal(t, DefaultNoMoreDataStatus, loader.config.NoMoreDataStatus)
	require.Equal(t, "7", loader.config.List)
	require.Equal(t, StateIdle, loader.State())
	require.Positive(t, loader.config.SnapshotTimeout)
}
