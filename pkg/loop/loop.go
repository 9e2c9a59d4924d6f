// Package loop provides a single-goroutine event loop. State owned by the
// loop is only touched from tasks posted to it, so it needs no locking.
// Background work hands results back with Post.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrStopped is returned when work is submitted to a loop that has stopped.
	ErrStopped = errors.New("loop stopped")

	// ErrAlreadyRunning is returned by Run when the loop was already started.
	ErrAlreadyRunning = errors.New("loop already running")
)

var (
	loopTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "giffun_loop_tasks_total",
		Help: "Total tasks executed on event loops",
	})

	loopTasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "giffun_loop_tasks_dropped_total",
		Help: "Tasks posted after the loop stopped",
	})
)

// DefaultQueueSize is the task buffer used when New is given a size <= 0.
const DefaultQueueSize = 64

// Poster accepts tasks for execution on an event loop.
type Poster interface {
	Post(fn func()) bool
}

// Loop runs posted tasks one at a time, in order, on the goroutine that
// called Run.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool

	logger zerolog.Logger
}

// New creates a loop with the given task buffer size.
func New(queueSize int, logger zerolog.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "loop").Logger(),
	}
}

// Run executes tasks until ctx is cancelled or Stop is called. Tasks still
// queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.started = true
	l.mu.Unlock()

	l.logger.Debug().Msg("Event loop started")
	defer l.logger.Debug().Msg("Event loop stopped")

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			loopTasksTotal.Inc()
			fn()
		}
	}
}

// Post queues fn for execution on the loop. It blocks while the queue is
// full and returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		loopTasksDropped.Inc()
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		loopTasksDropped.Inc()
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates Run. It is safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.done)
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
