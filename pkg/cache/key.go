package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key in Redis.
const KeyPrefix = "giffun"

// CacheKey identifies a cached backend response.
type CacheKey struct {
	// Endpoint is the backend path (e.g., "/feeds/world")
	Endpoint string

	// Params are the request parameters without credentials
	// (e.g., {"last_feed": "1200"})
	Params url.Values

	// UserID scopes responses that differ per logged-in user (0 for anonymous)
	UserID int64
}

// String generates a deterministic cache key string.
// Format: giffun:endpoint:param1=val1:param2=val2:user=42
//
// Example:
//
//	giffun:feeds/user:last_feed=1200:user_id=7:user=42
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Params[name], ",")))
		}
	}

	if k.UserID > 0 {
		parts = append(parts, fmt.Sprintf("user=%d", k.UserID))
	}

	return strings.Join(parts, ":")
}

// ImageKey returns the cache key for an image URL. Image URLs carry signed,
// per-request query strings, so everything from the first '?' on is dropped.
// A '?' in the first position is kept, and an empty URL yields "".
func ImageKey(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i > 0 {
		return rawURL[:i]
	}
	return rawURL
}
