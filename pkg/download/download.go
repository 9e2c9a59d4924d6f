// Package download streams remote files (GIFs, covers) to disk and reports
// progress.
//
// Each Start returns a Task. The listener sees zero or more OnProgress calls
// with a rising percentage followed by exactly one OnCompleted or OnFailure.
// When the downloader has a loop, every callback runs on it.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/loop"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidArgument is returned by Start for an empty url or path.
	ErrInvalidArgument = errors.New("download: url and path are required")

	// ErrCanceled is reported when a task is cancelled before it finishes.
	ErrCanceled = errors.New("download canceled")
)

var (
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giffun_downloads_total",
			Help: "Finished downloads by result",
		},
		[]string{"result"},
	)

	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giffun_download_bytes_total",
			Help: "Bytes written by downloads",
		},
	)
)

// StatusError is a non-2xx response to a download.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

// Listener receives the progress and outcome of a download.
type Listener interface {
	OnProgress(percent int)
	OnCompleted(path string)
	OnFailure(err error)
}

// ListenerFuncs adapts functions to Listener. Nil functions are skipped.
type ListenerFuncs struct {
	Progress  func(percent int)
	Completed func(path string)
	Failure   func(err error)
}

func (f ListenerFuncs) OnProgress(percent int) {
	if f.Progress != nil {
		f.Progress(percent)
	}
}

func (f ListenerFuncs) OnCompleted(path string) {
	if f.Completed != nil {
		f.Completed(path)
	}
}

func (f ListenerFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

// Config holds downloader settings.
type Config struct {
	// Timeout bounds connecting and receiving response headers.
	Timeout time.Duration

	// BufferSize is the copy chunk size.
	BufferSize int

	UserAgent string
}

// DefaultConfig returns the downloader defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		BufferSize: 32 * 1024,
		UserAgent:  "GifFun Android",
	}
}

// Downloader starts download tasks.
type Downloader struct {
	httpClient *http.Client
	poster     loop.Poster
	config     Config
	logger     zerolog.Logger
}

// New creates a downloader. With a nil poster callbacks run on the task's
// goroutine.
func New(cfg Config, poster loop.Poster) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32 * 1024
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Downloader{
		httpClient: &http.Client{Transport: transport},
		poster:     poster,
		config:     cfg,
		logger:     log.With().Str("component", "downloader").Logger(),
	}
}

// SetHTTPClient replaces the HTTP client (useful for testing).
func (d *Downloader) SetHTTPClient(client *http.Client) {
	d.httpClient = client
}

// Task is a running download.
type Task struct {
	ID   string
	URL  string
	Path string

	cancel   context.CancelFunc
	canceled atomic.Bool
	done     chan struct{}
	err      error
}

// Cancel stops the download. The listener gets OnFailure with ErrCanceled
// unless the task already finished.
func (t *Task) Cancel() {
	t.canceled.Store(true)
	t.cancel()
}

// Done is closed when the task has finished and its outcome was handed to
// the listener or the loop.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome after Done is closed: nil on success.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Start downloads rawURL to path in the background.
func (d *Downloader) Start(ctx context.Context, rawURL, path string, l Listener) (*Task, error) {
	rawURL = strings.TrimSpace(rawURL)
	path = strings.TrimSpace(path)
	if rawURL == "" || path == "" {
		return nil, ErrInvalidArgument
	}
	if l == nil {
		l = ListenerFuncs{}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		ID:     uuid.NewString(),
		URL:    rawURL,
		Path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		logger := d.logger.With().Str("task_id", task.ID).Str("url", rawURL).Logger()

		err := d.run(taskCtx, task, l, logger)
		if err != nil && task.canceled.Load() {
			err = ErrCanceled
		}
		task.err = err

		switch {
		case err == nil:
			downloadsTotal.WithLabelValues("completed").Inc()
			logger.Info().Str("path", path).Msg("Download completed")
			d.dispatch(func() { l.OnCompleted(path) })
		case errors.Is(err, ErrCanceled):
			downloadsTotal.WithLabelValues("canceled").Inc()
			logger.Info().Msg("Download canceled")
			d.dispatch(func() { l.OnFailure(err) })
		default:
			downloadsTotal.WithLabelValues("failed").Inc()
			logger.Warn().Err(err).Msg("Download failed")
			d.dispatch(func() { l.OnFailure(err) })
		}
		close(task.done)
	}()

	return task, nil
}

// run streams the body into a temporary file next to the target and renames
// it into place once complete.
func (d *Downloader) run(ctx context.Context, task *Task, l Listener, logger zerolog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if d.config.UserAgent != "" {
		req.Header.Set("User-Agent", d.config.UserAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", task.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, URL: task.URL}
	}

	if err := os.MkdirAll(filepath.Dir(task.Path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(task.Path), filepath.Base(task.Path)+".*.part")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := d.copy(ctx, tmp, resp.Body, resp.ContentLength, l)
	downloadBytes.Add(float64(written))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), task.Path); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	logger.Debug().Int64("bytes", written).Msg("Download written")
	return nil
}

// copy writes src to dst and reports every change of the integer percentage.
// Without a content length no progress is reported.
func (d *Downloader) copy(ctx context.Context, dst io.Writer, src io.Reader, length int64, l Listener) (int64, error) {
	buf := make([]byte, d.config.BufferSize)
	var (
		total int64
		last  = -1
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)

			if length > 0 {
				percent := int(total * 100 / length)
				if percent > 100 {
					percent = 100
				}
				if percent != last {
					last = percent
					d.dispatch(func() { l.OnProgress(percent) })
				}
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read: %w", readErr)
		}
	}
}

func (d *Downloader) dispatch(fn func()) {
	if d.poster == nil {
		fn()
		return
	}
	if !d.poster.Post(fn) {
		d.logger.Debug().Msg("Loop stopped, dropping download callback")
	}
}
