package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	cooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgg_rate_limit_cooldown_seconds",
		Help: "Length of the most recent cooldown imposed by the remote source",
	})

	throttlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_rate_limit_throttles_total",
		Help: "Total number of throttling responses (429/503) received",
	})

	waitSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_rate_limit_wait_seconds_total",
		Help: "Total seconds spent waiting for a cooldown to end",
	})

	pauseSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_pacing_pause_seconds_total",
		Help: "Total seconds spent in inter-batch pauses",
	})
)

// Tracker records throttling signals from the remote source and gates requests.
// A nil Redis client keeps the state in memory for the lifetime of the Tracker.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	local State
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetClock replaces the time source and sleep function (for testing).
func (t *Tracker) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		t.now = now
	}
	if sleep != nil {
		t.sleep = sleep
	}
}

// GetState retrieves the current pacing state.
// Returns an empty (ready) state if nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state := t.local
		return &state, nil
	}

	cooldownMillis, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	throttles, err := t.redis.Get(ctx, RedisKeyThrottles).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttles: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	state := &State{Throttles: throttles}
	if cooldownMillis > 0 {
		state.CooldownUntil = time.UnixMilli(cooldownMillis)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, nil
}

// UpdateFromResponse inspects a response status and headers.
// 429 and 503 responses start (or extend) a cooldown taken from Retry-After.
// Other statuses leave the state untouched.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return nil
	}

	now := t.now()
	cooldown := parseRetryAfter(headers.Get("Retry-After"), now)
	until := now.Add(cooldown)

	throttlesTotal.Inc()
	cooldownSeconds.Set(cooldown.Seconds())

	if t.redis == nil {
		t.mu.Lock()
		if until.After(t.local.CooldownUntil) {
			t.local.CooldownUntil = until
		}
		t.local.Throttles++
		t.local.LastUpdate = now
		t.mu.Unlock()
	} else if err := t.storeCooldown(ctx, now, until, cooldown); err != nil {
		return err
	}

	t.logger.Warn().
		Int("status", status).
		Dur("cooldown", cooldown).
		Time("cooldown_until", until).
		Msg("Remote source throttled requests - cooling down")

	return nil
}

func (t *Tracker) storeCooldown(ctx context.Context, now, until time.Time, cooldown time.Duration) error {
	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	if until.After(current.CooldownUntil) {
		// Key expires with the cooldown; a missing key means "ready".
		pipe.Set(ctx, RedisKeyCooldownUntil, until.UnixMilli(), cooldown+time.Second)
	}
	pipe.Incr(ctx, RedisKeyThrottles)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Wait blocks until any active cooldown has ended.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}

	wait := state.TimeUntilReady(t.now())
	if wait <= 0 {
		return nil
	}

	t.logger.Info().
		Dur("wait", wait).
		Msg("Cooldown active - delaying request")

	waitSecondsTotal.Add(wait.Seconds())
	return t.sleep(ctx, wait)
}

// Pause blocks for d. It is the fixed inter-batch pause used to stay under the
// request-rate ceiling of the detail API. Non-positive durations return at once.
func (t *Tracker) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t.logger.Debug().
		Dur("pause", d).
		Msg("Pausing between batches")

	pauseSecondsTotal.Add(d.Seconds())
	return t.sleep(ctx, d)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return DefaultCooldown
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > int(MaxCooldown/time.Second) {
			return MaxCooldown
		}
		d = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultCooldown
	}

	if d < 0 {
		return 0
	}
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
