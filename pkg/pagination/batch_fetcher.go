package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/feed"
	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int

	// Timeout per page fetch
	Timeout time.Duration

	// NoMoreDataStatus marks an exhausted list, as in feed.Config.
	NoMoreDataStatus int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   4,
		Timeout:          15 * time.Second,
		NoMoreDataStatus: feed.DefaultNoMoreDataStatus,
	}
}

// ParentResult is the outcome of one parent's first page.
type ParentResult[T feed.Item] struct {
	Parent string
	Items  []T
	Error  error
}

// BatchFetcher loads the first page of many lists in parallel, e.g. the
// comments of every feed on screen or the posts of every followed user.
type BatchFetcher[T feed.Item] struct {
	fetcher feed.Fetcher[T]
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[T feed.Item](fetcher feed.Fetcher[T], config Config) *BatchFetcher[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.NoMoreDataStatus == feed.StatusOK {
		config.NoMoreDataStatus = feed.DefaultNoMoreDataStatus
	}

	return &BatchFetcher[T]{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchFirstPages fetches the first page of every parent using a worker
// pool. Exhausted lists map to an empty slice. Failed parents are left out
// of the map and the first failure is returned along with the partial
// results.
func (bf *BatchFetcher[T]) FetchFirstPages(ctx context.Context, parents []string) (map[string][]T, error) {
	start := time.Now()
	results := make(map[string][]T, len(parents))
	if len(parents) == 0 {
		return results, nil
	}

	log.Info().
		Int("parents", len(parents)).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting parallel first page fetch")

	queue := make(chan string, len(parents))
	for _, p := range parents {
		queue <- p
	}
	close(queue)

	out := make(chan ParentResult[T], len(parents))

	var wg sync.WaitGroup
	workers := min(bf.config.MaxConcurrency, len(parents))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, queue, out, &wg, i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var (
		firstErr error
		failed   int
	)
	for r := range out {
		if r.Error != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("parent %s: %w", r.Parent, r.Error)
			}
			continue
		}
		results[r.Parent] = r.Items
	}

	if firstErr == nil && ctx.Err() != nil && len(results) < len(parents) {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("fetched", len(results)).
			Int("failed", failed).
			Int("total", len(parents)).
			Msg("Worker error - returning partial results")
		return results, fmt.Errorf("batch fetch (partial data: %d/%d parents): %w", len(results), len(parents), firstErr)
	}

	log.Info().
		Int("parents", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

func (bf *BatchFetcher[T]) worker(ctx context.Context, queue <-chan string, out chan<- ParentResult[T], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for parent := range queue {
		if ctx.Err() != nil {
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		items, err := bf.fetchFirst(ctx, parent)
		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("parent", parent).
				Msg("Page fetch failed")
		}
		out <- ParentResult[T]{Parent: parent, Items: items, Error: err}
		processed++
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", processed).
		Msg("Worker completed")
}

func (bf *BatchFetcher[T]) fetchFirst(ctx context.Context, parent string) ([]T, error) {
	pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()

	page, err := bf.fetcher.FetchPage(pageCtx, feed.PageRequest{Parent: parent})
	if err != nil {
		return nil, err
	}
	switch page.Status {
	case feed.StatusOK:
		if page.Items == nil {
			return []T{}, nil
		}
		return page.Items, nil
	case bf.config.NoMoreDataStatus:
		return []T{}, nil
	default:
		return nil, &feed.StatusError{Status: page.Status, Message: page.Message}
	}
}
