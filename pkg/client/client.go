// Package client is the HTTP client for the GifFun backend. It signs
// requests, shares rate limit state and cached responses through Redis,
// retries transient failures and decodes the {status, msg, data} envelope.
package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/giffun-client/pkg/cache"
	"github.com/Sternrassler/giffun-client/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultUserAgent is the User-Agent the backend expects from clients.
const DefaultUserAgent = "GifFun Android"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giffun_requests_total",
		Help: "Total backend requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "giffun_request_duration_seconds",
		Help:    "Backend request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giffun_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})
)

// Client talks to the GifFun backend.
type Client struct {
	httpClient  *http.Client
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger

	mu      sync.RWMutex
	session Session
}

// Config holds the client configuration.
type Config struct {
	// Redis client for caching and rate limit state
	Redis *redis.Client

	// BaseURL of the backend, e.g. "https://api.giffun.example"
	BaseURL string

	UserAgent  string
	AppVersion string

	// DeviceSerial is sent as the "d" param on authenticated requests.
	DeviceSerial string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// MaxRetries caps attempts per request, including the first one.
	// Zero uses the per error class default.
	MaxRetries int

	// InitialBackoff overrides the per error class initial backoff when set.
	InitialBackoff time.Duration

	// ThrottleDelay is the pause applied while the rate limit is in the
	// warning band. Zero disables throttling.
	ThrottleDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, baseURL string) Config {
	return Config{
		Redis:         redis,
		BaseURL:       baseURL,
		UserAgent:     DefaultUserAgent,
		AppVersion:    "1.0.0",
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		ThrottleDelay: ratelimit.DefaultThrottleDelay,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, errors.New("user-agent is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := log.With().Str("component", "giffun-client").Logger()

	rateLimiter := ratelimit.NewTracker(cfg.Redis, logger)
	rateLimiter.SetThrottleDelay(cfg.ThrottleDelay)

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		redis:       cfg.Redis,
		rateLimiter: rateLimiter,
		cache:       cache.NewManager(cfg.Redis),
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs an HTTP request with rate limiting, caching and retries.
//
// GET requests revalidate a cached response with If-None-Match or
// If-Modified-Since and get the cached body back on 304. Only GET requests
// are retried. 4xx responses are returned to the caller untouched.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	logger := c.logger.With().
		Str("endpoint", endpoint).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Logger()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		logger.Warn().Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	var (
		cacheKey    cache.CacheKey
		cachedEntry *cache.CacheEntry
	)
	cacheable := req.Method == http.MethodGet
	if cacheable {
		cacheKey = c.cacheKey(req.URL)
		cachedEntry, err = c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache get error")
		}
		if cache.AddConditionalHeaders(req, cachedEntry) {
			logger.Debug().Str("etag", cachedEntry.ETag).Msg("Making conditional request")
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.AppVersion != "" {
		req.Header.Set(HeaderAppVersion, c.config.AppVersion)
	}
	req.Header.Set("Accept", "application/json")

	logger.Debug().Str("method", req.Method).Msg("Executing request")

	var (
		resp     *http.Response
		errClass ErrorClass
		attempt  int
	)
	retryErr := retryWithBackoff(ctx, func() error {
		attempt++
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				errClass = ErrorClassClient
				return fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			errClass = classifyTransportError(reqErr)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, string(errClass)).Inc()
			logger.Warn().Err(reqErr).Str("error_class", string(errClass)).Msg("HTTP request failed")
			return reqErr
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil
		}

		if resp.StatusCode >= 400 {
			errClass = classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			logger.Warn().
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Backend request error")

			if shouldRetry(errClass) {
				apiErr := &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Message:    resp.Status,
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				resp = nil
				return apiErr
			}
			return nil
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return nil
	}, func(error) ErrorClass {
		return errClass
	}, c.retryPolicy(req.Method))

	if retryErr != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	if resp.StatusCode == http.StatusNotModified {
		requestsTotal.WithLabelValues(endpoint, "304").Inc()
		cache.NotModifiedResponses.Inc()
		resp.Body.Close()

		if cachedEntry == nil {
			return nil, &APIError{
				StatusCode: http.StatusNotModified,
				ErrorClass: ErrorClassServer,
				Message:    "304 without a cached response",
			}
		}
		logger.Debug().Msg("304 Not Modified - using cache")

		if v := resp.Header.Get("Expires"); v != "" {
			if newExpires, err := http.ParseTime(v); err == nil {
				if err := c.cache.UpdateTTL(ctx, cacheKey, newExpires); err != nil {
					logger.Warn().Err(err).Msg("Failed to update cache TTL")
				}
			}
		}
		return cache.EntryToResponse(req, cachedEntry), nil
	}

	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			logger.Debug().Dur("ttl", entry.TTL()).Msg("Cached response")
		}
	}

	return resp, nil
}

// cacheKey keys a GET by path, params without credentials and session user.
func (c *Client) cacheKey(u *url.URL) cache.CacheKey {
	params := u.Query()
	for _, p := range authParams {
		params.Del(p)
	}
	session, _ := c.Session()
	return cache.CacheKey{
		Endpoint: u.Path,
		Params:   params,
		UserID:   session.UserID,
	}
}

// retryPolicy returns the retry configuration for a method. Non-GET
// requests are sent once since the backend actions they trigger are not
// idempotent.
func (c *Client) retryPolicy(method string) func(ErrorClass) RetryConfig {
	return func(class ErrorClass) RetryConfig {
		cfg := RetryConfigForErrorClass(class)
		if method != http.MethodGet {
			cfg.MaxAttempts = 1
			return cfg
		}
		if c.config.MaxRetries > 0 {
			cfg.MaxAttempts = c.config.MaxRetries
		}
		if c.config.InitialBackoff > 0 {
			cfg.InitialBackoff = c.config.InitialBackoff
		}
		return cfg
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
