package retry

import "errors"

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	// The last operation error is wrapped alongside it.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a backoff sleep.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidPolicy is returned when a policy cannot be executed.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)
