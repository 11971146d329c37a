package client

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoIdentifiers is returned when a detail request is built without identifiers.
var ErrNoIdentifiers = errors.New("no identifiers to request")

// RemoteError represents a failed request to the remote source with additional context.
type RemoteError struct {
	StatusCode int
	ErrorClass ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.Endpoint, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.Endpoint, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient remote failure worth retrying.
// Cancellation of the caller's context and client errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		return false
	}
	return shouldRetry(remoteErr.ErrorClass)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors will not fix themselves
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassQueued:
		return true
	default:
		return false
	}
}
