// Package ratelimit paces requests against the remote catalog source.
// It tracks 429/503 cooldowns announced through the Retry-After header and
// performs the fixed inter-batch pauses of the detail fetcher.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyCooldownUntil = "bgg:rate_limit:cooldown_until"
	RedisKeyThrottles     = "bgg:rate_limit:throttles"
	RedisKeyLastUpdate    = "bgg:rate_limit:last_update"
)

// DefaultCooldown is used when a throttling response carries no usable Retry-After header.
const DefaultCooldown = 30 * time.Second

// MaxCooldown bounds a single cooldown, whatever the server asks for.
const MaxCooldown = 10 * time.Minute

// State represents the current pacing state of the remote source.
// With Redis configured it is shared by every process using the same keys,
// so a run started right after a throttled run still honours the cooldown.
type State struct {
	// CooldownUntil is the moment requests may resume. Zero when not throttled.
	CooldownUntil time.Time `json:"cooldown_until"`

	// Throttles counts throttling responses seen since the state was created.
	Throttles int64 `json:"throttles"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// InCooldown reports whether requests must wait at now.
func (s *State) InCooldown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// TimeUntilReady returns how long to wait at now before the next request.
// Returns 0 if no cooldown is active.
func (s *State) TimeUntilReady(now time.Time) time.Duration {
	if !s.InCooldown(now) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}
