// Package metrics exposes the Prometheus metrics of the GifFun client.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, feed, loop, store, download) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the HTTP handler and a reference for all available
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry Handler serves.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - giffun_rate_limit_remaining (Gauge): Requests remaining in the backend rate limit window
//   - giffun_rate_limit_blocks_total (Counter): Requests blocked in the critical band
//   - giffun_rate_limit_throttles_total (Counter): Requests delayed in the warning band
//
// Cache Metrics (pkg/cache):
//   - giffun_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - giffun_cache_misses_total (Counter): Cache misses
//   - giffun_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - giffun_304_responses_total (Counter): 304 Not Modified responses
//   - giffun_conditional_requests_total (Counter): Conditional requests sent
//   - giffun_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - giffun_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - giffun_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - giffun_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, timeout)
//   - giffun_callbacks_dropped_total (Counter): Callbacks lost because their loop stopped
//
// Retry Metrics (pkg/client):
//   - giffun_retries_total{error_class} (Counter): Retry attempts by error class
//   - giffun_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - giffun_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Feed Metrics (pkg/feed, pkg/loop):
//   - giffun_feed_fetches_total{outcome} (Counter): Page fetches by outcome
//   - giffun_feed_triggers_rejected_total{state} (Counter): Load requests refused by the state gate
//   - giffun_feed_late_results_total (Counter): Results dropped for closed loaders
//   - giffun_feed_page_items (Histogram): Items per fetched page
//   - giffun_loop_tasks_total (Counter): Tasks run on event loops
//   - giffun_loop_tasks_dropped_total (Counter): Tasks posted after a loop stopped
//
// Storage Metrics (pkg/store, pkg/download):
//   - giffun_store_operations_total{op, result} (Counter): Snapshot store operations
//   - giffun_downloads_total{result} (Counter): Finished downloads by result
//   - giffun_download_bytes_total (Counter): Bytes written by downloads
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(giffun_cache_hits_total[5m])) /
//   (sum(rate(giffun_cache_hits_total[5m])) + sum(rate(giffun_cache_misses_total[5m])))
//
//   # Rate Limit Status
//   giffun_rate_limit_remaining < 20
//
//   # Exhausted lists vs failures
//   sum by (outcome) (rate(giffun_feed_fetches_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(giffun_request_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(giffun_304_responses_total[5m]) / rate(giffun_requests_total[5m])
