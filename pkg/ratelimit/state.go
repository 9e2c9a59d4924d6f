// Package ratelimit tracks the backend's request quota and gates requests.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers and keeps
// the latest values in Redis so every client process sharing the Redis
// instance backs off together.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "giffun:rate_limit:remaining"
	RedisKeyResetTimestamp = "giffun:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "giffun:rate_limit:last_update"
)

// Response headers carrying the quota.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when the remaining quota falls
	// below this value, until the window resets.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests below this value.
	ThresholdWarning = 20

	// ThresholdHealthy and above means no restrictions.
	ThresholdHealthy = 50
)

// RateLimitState is the quota state shared across clients via Redis.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets. Computed from X-RateLimit-Reset
	// (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// WindowExpired reports whether the reset time has passed. An expired
// window no longer restricts requests.
func (s *RateLimitState) WindowExpired() bool {
	return !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && !s.WindowExpired()
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && !s.WindowExpired()
}

// TimeUntilReset returns the duration until the window resets, or 0 if the
// reset time has passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
