// Package ratelimit implements the request pacing policy for the CRM API.
// It reads the X-HubSpot-RateLimit-* response headers, keeps the latest
// window state in a Store (in memory or in Redis, so several exporters
// sharing one token share one budget) and delays requests accordingly.
package ratelimit

import (
	"time"
)

// Response headers carrying rate limit state.
const (
	HeaderMax            = "X-HubSpot-RateLimit-Max"
	HeaderRemaining      = "X-HubSpot-RateLimit-Remaining"
	HeaderInterval       = "X-HubSpot-RateLimit-Interval-Milliseconds"
	HeaderDaily          = "X-HubSpot-RateLimit-Daily"
	HeaderDailyRemaining = "X-HubSpot-RateLimit-Daily-Remaining"
)

// RedisKeyState is the default Redis key for the shared state.
const RedisKeyState = "crmexport:rate_limit:state"

// Thresholds for rate limit decisions.
const (
	// RemainingCritical makes Wait sleep until the current window resets.
	RemainingCritical = 2

	// RemainingWarning makes Wait add the throttle delay before each request.
	RemainingWarning = 10
)

// State is the rate limit window reported by the most recent response.
type State struct {
	// Max is the number of requests allowed per interval.
	Max int `json:"max"`

	// Remaining is the number of requests left in the current interval.
	Remaining int `json:"remaining"`

	// Interval is the length of the rolling window.
	Interval time.Duration `json:"interval"`

	// ResetAt is when the current window ends (LastUpdate + Interval).
	ResetAt time.Time `json:"reset_at"`

	// DailyMax and DailyRemaining are zero when the API did not report them.
	DailyMax       int `json:"daily_max"`
	DailyRemaining int `json:"daily_remaining"`

	// LastUpdate is when the headers were observed.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock reports whether the window is nearly spent and has not reset yet.
func (s *State) NeedsCriticalBlock() bool {
	return s.Max > 0 && s.Remaining < RemainingCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Max > 0 && s.Remaining < RemainingWarning && !s.NeedsCriticalBlock()
}

// DailyExhausted reports whether the daily budget is used up.
func (s *State) DailyExhausted() bool {
	return s.DailyMax > 0 && s.DailyRemaining <= 0
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
