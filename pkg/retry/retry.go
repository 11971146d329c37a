// Package retry provides a generic retry-with-exponential-backoff combinator
// for fallible operations against the remote catalog source.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bgg_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

// Policy holds the configuration for retry logic.
type Policy struct {
	// Name labels the wrapped operation in metrics and logs.
	Name string

	// MaxAttempts is the maximum number of attempts (including the initial call).
	MaxAttempts int

	// InitialDelay is the sleep before the second attempt.
	InitialDelay time.Duration

	// BackoffMultiplier is applied to the delay after every retry.
	BackoffMultiplier float64

	// MaxDelay caps the delay. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(err error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt, remaining int, err error)

	// OnExhausted is called once when the final attempt has failed.
	OnExhausted func(attempts int, err error)

	// Sleep blocks for d. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used for page and batch requests:
// three attempts, 1s initial delay, doubling.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:              name,
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WithDefaults returns a copy of p whose zero Name, MaxAttempts, InitialDelay
// and BackoffMultiplier take the values of DefaultPolicy(name).
func (p Policy) WithDefaults(name string) Policy {
	def := DefaultPolicy(name)
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	return p
}

// WithLogging returns a copy of p whose callbacks log through logger.
// Callbacks already set on p are kept.
func (p Policy) WithLogging(logger zerolog.Logger) Policy {
	if p.OnRetry == nil {
		p.OnRetry = LogOnRetry(logger, p.Name)
	}
	if p.OnExhausted == nil {
		p.OnExhausted = LogOnExhausted(logger, p.Name)
	}
	return p
}

func (p Policy) validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1 (got %d)", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1 (got %v)", ErrInvalidPolicy, p.BackoffMultiplier)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w: initial delay must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// Wrap decorates op with the retry policy. The returned function has the same
// signature as op and keeps no state between calls.
func Wrap[T any](p Policy, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, op)
	}
}

// Do runs op under the retry policy.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.validate(); err != nil {
		return zero, err
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}

		remaining := p.MaxAttempts - attempt
		if remaining == 0 {
			break
		}

		retriesTotal.WithLabelValues(p.Name).Inc()
		retryBackoffSeconds.WithLabelValues(p.Name).Observe(delay.Seconds())

		if p.OnRetry != nil {
			p.OnRetry(attempt, remaining, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	retryExhaustedTotal.WithLabelValues(p.Name).Inc()
	if p.OnExhausted != nil {
		p.OnExhausted(p.MaxAttempts, lastErr)
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, p.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LogOnRetry returns an OnRetry callback that logs a warning per failed attempt.
func LogOnRetry(logger zerolog.Logger, name string) func(attempt, remaining int, err error) {
	return func(attempt, remaining int, err error) {
		logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("remaining", remaining).
			Msg("Operation failed, retrying")
	}
}

// LogOnExhausted returns an OnExhausted callback that logs the final failure.
func LogOnExhausted(logger zerolog.Logger, name string) func(attempts int, err error) {
	return func(attempts int, err error) {
		logger.Error().
			Err(err).
			Str("operation", name).
			Int("attempts", attempts).
			Msg("Retry attempts exhausted, giving up")
	}
}
