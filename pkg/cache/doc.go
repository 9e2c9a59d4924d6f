// Package cache provides the Redis-backed response cache used by the client,
// plus the cache key rule for image URLs.
//
// Responses are stored until their Expires header, or DefaultTTL when the
// backend sends none. While an entry is alive the client revalidates it with
// If-None-Match / If-Modified-Since and serves the stored body on 304.
//
// # Basic Usage
//
//	manager := cache.NewManager(redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	}))
//
//	key := cache.CacheKey{
//		Endpoint: "/feeds/world",
//		Params:   url.Values{"last_feed": []string{"1200"}},
//		UserID:   42,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the backend
//	}
//
// # Image Keys
//
// Image URLs are signed per request. ImageKey drops the query string so
// the same GIF maps to one key:
//
//	cache.ImageKey("https://img.example.com/a.gif?sign=x&t=1") // "https://img.example.com/a.gif"
//
// # Metrics
//
//   - giffun_cache_hits_total{layer="redis"}
//   - giffun_cache_misses_total
//   - giffun_cache_size_bytes{layer="redis"}
//   - giffun_conditional_requests_total
//   - giffun_304_responses_total
//   - giffun_cache_errors_total{operation}
package cache
