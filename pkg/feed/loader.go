package feed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/logging"
	"github.com/Sternrassler/giffun-client/pkg/loop"
	"github.com/rs/zerolog"
)

// Config holds loader configuration.
type Config struct {
	// List names the list in logs and snapshots (e.g. "world", "user:42").
	List string

	// Parent is the parent resource id passed to every fetch.
	Parent string

	// NoMoreDataStatus is the backend status that marks exhaustion.
	NoMoreDataStatus int

	// SnapshotTimeout bounds each snapshot write.
	SnapshotTimeout time.Duration
}

// DefaultConfig returns the loader defaults.
func DefaultConfig() Config {
	return Config{
		NoMoreDataStatus: DefaultNoMoreDataStatus,
		SnapshotTimeout:  5 * time.Second,
	}
}

// EventKind describes what changed in a loader.
type EventKind int

const (
	// EventStateChanged reports a state transition without list changes.
	EventStateChanged EventKind = iota

	// EventRefreshed reports that the list was replaced.
	EventRefreshed

	// EventAppended reports that items were appended.
	EventAppended
)

// Event is delivered to the listener on the loop after every transition.
type Event[T Item] struct {
	Kind  EventKind
	State LoadState

	// Items holds the items added by this event, Offset their index in the
	// list.
	Items  []T
	Offset int

	// Err is set when State is StateFailed or StateNoMoreData.
	Err error
}

type loadMode int

const (
	modeRefresh loadMode = iota
	modeMore
)

func (m loadMode) String() string {
	if m == modeRefresh {
		return "refresh"
	}
	return "more"
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeExhausted
	outcomeFailed

	// outcomeCleared is a refresh that came back empty: the list is gone.
	outcomeCleared
)

// Loader owns one paginated list. Every method must be called from the loop
// passed to NewLoader.
type Loader[T Item] struct {
	ctx      context.Context
	poster   loop.Poster
	fetcher  Fetcher[T]
	config   Config
	logger   zerolog.Logger
	listener func(Event[T])
	snapshot Snapshot[T]

	// Loop-owned state.
	items    []T
	cursor   Cursor
	pages    int
	state    LoadState
	err      error
	lastReq  PageRequest
	lastMode loadMode

	closed atomic.Bool
}

// NewLoader creates a loader. Fetches run with ctx; closing the loader does
// not cancel them.
func NewLoader[T Item](ctx context.Context, poster loop.Poster, fetcher Fetcher[T], cfg Config) *Loader[T] {
	if poster == nil {
		panic("feed: loop cannot be nil")
	}
	if fetcher == nil {
		panic("feed: fetcher cannot be nil")
	}
	if cfg.NoMoreDataStatus == StatusOK {
		cfg.NoMoreDataStatus = DefaultNoMoreDataStatus
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 5 * time.Second
	}
	if cfg.List == "" {
		cfg.List = cfg.Parent
	}

	return &Loader[T]{
		ctx:     ctx,
		poster:  poster,
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.ForList("feed-loader", cfg.List, cfg.Parent),
		state:   StateIdle,
	}
}

// SetListener registers fn to receive every Event.
func (l *Loader[T]) SetListener(fn func(Event[T])) {
	l.listener = fn
}

// SetSnapshot makes successful pages persist to s. Refreshes replace the
// stored list, load-more pages are appended.
func (l *Loader[T]) SetSnapshot(s Snapshot[T]) {
	l.snapshot = s
}

// SetLogger replaces the loader's logger. Fetches already in flight keep
// logging to the previous one.
func (l *Loader[T]) SetLogger(logger zerolog.Logger) {
	l.logger = logger.With().Str("list", l.config.List).Logger()
}

// Seed fills an idle loader with previously stored items, typically read from
// a snapshot. The cursor moves to the last seeded item. Seed is rejected in
// any state but Idle so a pending Retry cannot mix old and seeded pages.
func (l *Loader[T]) Seed(items []T) bool {
	if l.closed.Load() || l.state != StateIdle {
		return false
	}
	l.items = append([]T(nil), items...)
	l.cursor = 0
	l.pages = 0
	if n := len(l.items); n > 0 {
		l.cursor = Cursor(l.items[n-1].ItemID())
		l.pages = 1
	}
	l.logger.Debug().
		Int("items", len(l.items)).
		Stringer("cursor", l.cursor).
		Msg("Seeded list")
	l.emit(Event[T]{Kind: EventRefreshed, State: l.state, Items: l.Items()})
	return true
}

// Refresh reloads the list from the start of the feed. The list is replaced
// once the first page arrives. It is rejected while a fetch is in flight.
func (l *Loader[T]) Refresh() bool {
	if !l.admit(l.state != StateLoading) {
		return false
	}
	l.start(modeRefresh, PageRequest{Parent: l.config.Parent})
	return true
}

// LoadMore fetches the page after the cursor. It is rejected while loading
// and once the list is exhausted.
func (l *Loader[T]) LoadMore() bool {
	if !l.admit(l.state.CanTrigger()) {
		return false
	}
	l.start(modeMore, PageRequest{
		Parent:    l.config.Parent,
		Cursor:    l.cursor,
		PageIndex: l.pages,
	})
	return true
}

// OnScrolled is the infinite-scroll trigger. It starts LoadMore when the
// visible window nears the end of the list. Upward scrolls (dy < 0) never
// trigger.
func (l *Loader[T]) OnScrolled(total, visible, firstVisible, dy int) bool {
	if dy < 0 {
		return false
	}
	if !l.state.CanTrigger() {
		TriggersRejected.WithLabelValues(l.state.String()).Inc()
		return false
	}
	if !ShouldLoadMore(total, visible, firstVisible) {
		return false
	}
	return l.LoadMore()
}

// Retry re-issues the last fetch with the same request after a failure or an
// exhaustion report.
func (l *Loader[T]) Retry() bool {
	if !l.admit(l.state.CanRetry()) {
		return false
	}
	l.start(l.lastMode, l.lastReq)
	return true
}

// Close marks the loader dead. Results of in-flight fetches are ignored when
// they arrive.
func (l *Loader[T]) Close() {
	if l.closed.CompareAndSwap(false, true) {
		l.logger.Debug().Stringer("state", l.state).Msg("Loader closed")
	}
}

// Closed reports whether Close was called.
func (l *Loader[T]) Closed() bool {
	return l.closed.Load()
}

// Items returns a copy of the list.
func (l *Loader[T]) Items() []T {
	return append([]T(nil), l.items...)
}

// Len returns the number of items held.
func (l *Loader[T]) Len() int {
	return len(l.items)
}

// Cursor returns the id of the last item held.
func (l *Loader[T]) Cursor() Cursor {
	return l.cursor
}

// Pages returns the number of pages loaded since the last refresh.
func (l *Loader[T]) Pages() int {
	return l.pages
}

// State returns the current load state.
func (l *Loader[T]) State() LoadState {
	return l.state
}

// Err returns the error behind StateFailed or StateNoMoreData.
func (l *Loader[T]) Err() error {
	return l.err
}

func (l *Loader[T]) admit(allowed bool) bool {
	if l.closed.Load() {
		TriggersRejected.WithLabelValues("closed").Inc()
		return false
	}
	if !allowed {
		TriggersRejected.WithLabelValues(l.state.String()).Inc()
		l.logger.Debug().Stringer("state", l.state).Msg("Load request rejected")
		return false
	}
	return true
}

func (l *Loader[T]) start(mode loadMode, req PageRequest) {
	l.state = StateLoading
	l.err = nil
	l.lastMode = mode
	l.lastReq = req

	l.logger.Debug().
		Str("mode", mode.String()).
		Str("parent", req.Parent).
		Stringer("cursor", req.Cursor).
		Int("page_index", req.PageIndex).
		Msg("Fetching page")
	l.emit(Event[T]{Kind: EventStateChanged, State: l.state})

	snapshot := l.snapshot
	logger := l.logger
	go func() {
		page, err := l.fetcher.FetchPage(l.ctx, req)
		out, err := l.judge(mode, page, err)
		if snapshot != nil && !l.closed.Load() {
			switch out {
			case outcomeOK:
				l.persist(snapshot, mode, page.Items, logger)
			case outcomeCleared:
				l.persist(snapshot, modeRefresh, nil, logger)
			}
		}

		if !l.poster.Post(func() { l.deliver(mode, req, page, out, err) }) {
			LateResults.Inc()
			logger.Debug().Msg("Loop stopped before page could be delivered")
		}
	}()
}

// judge maps a fetch result onto its outcome. It only reads immutable config
// and is safe off the loop.
func (l *Loader[T]) judge(mode loadMode, page Page[T], err error) (outcome, error) {
	switch {
	case err != nil:
		return outcomeFailed, err
	case page.Status == l.config.NoMoreDataStatus:
		return outcomeExhausted, ErrNoMoreData
	case page.Status != StatusOK:
		return outcomeFailed, &StatusError{Status: page.Status, Message: page.Message}
	case len(page.Items) == 0 && mode == modeRefresh:
		return outcomeCleared, ErrNoMoreData
	case len(page.Items) == 0:
		return outcomeExhausted, ErrNoMoreData
	default:
		return outcomeOK, nil
	}
}

func (l *Loader[T]) persist(s Snapshot[T], mode loadMode, items []T, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.SnapshotTimeout)
	defer cancel()

	var err error
	if mode == modeRefresh {
		err = s.Replace(ctx, l.config.List, items)
	} else {
		err = s.Append(ctx, l.config.List, items)
	}
	if err != nil {
		logger.Warn().Err(err).Str("mode", mode.String()).Msg("Failed to write list snapshot")
	}
}

func (l *Loader[T]) deliver(mode loadMode, req PageRequest, page Page[T], out outcome, err error) {
	if l.closed.Load() {
		LateResults.Inc()
		l.logger.Debug().Stringer("cursor", req.Cursor).Msg("Dropping result for closed loader")
		return
	}

	switch out {
	case outcomeOK:
		PageSize.Observe(float64(len(page.Items)))
		ev := Event[T]{Items: page.Items}
		if mode == modeRefresh {
			l.items = append([]T(nil), page.Items...)
			ev.Kind = EventRefreshed
			FetchesTotal.WithLabelValues("refreshed").Inc()
		} else {
			ev.Offset = len(l.items)
			l.items = append(l.items, page.Items...)
			ev.Kind = EventAppended
			FetchesTotal.WithLabelValues("appended").Inc()
		}
		l.cursor, _ = page.Last()
		l.pages = req.PageIndex + 1
		l.state = StateIdle
		l.err = nil
		ev.State = l.state

		l.logger.Info().
			Str("mode", mode.String()).
			Int("items", len(page.Items)).
			Stringer("cursor", l.cursor).
			Msg("Page loaded")
		l.emit(ev)

	case outcomeCleared:
		FetchesTotal.WithLabelValues("cleared").Inc()
		l.items = nil
		l.cursor = 0
		l.pages = 0
		l.state = StateNoMoreData
		l.err = err
		l.logger.Info().Msg("Refresh returned no items, list cleared")
		l.emit(Event[T]{Kind: EventRefreshed, State: l.state, Err: err})

	case outcomeExhausted:
		FetchesTotal.WithLabelValues("no_more_data").Inc()
		l.state = StateNoMoreData
		l.err = err
		l.logger.Info().Stringer("cursor", req.Cursor).Msg("No more data")
		l.emit(Event[T]{Kind: EventStateChanged, State: l.state, Err: err})

	default:
		FetchesTotal.WithLabelValues("failed").Inc()
		l.state = StateFailed
		l.err = err
		l.logger.Warn().
			Err(err).
			Str("kind", Classify(err).String()).
			Stringer("cursor", req.Cursor).
			Msg("Page fetch failed")
		l.emit(Event[T]{Kind: EventStateChanged, State: l.state, Err: err})
	}
}

func (l *Loader[T]) emit(ev Event[T]) {
	if l.listener != nil {
		l.listener(ev)
	}
}
