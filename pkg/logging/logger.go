// Package logging configures zerolog for the fetch pipeline.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentClient       = "bgg-client"
	ComponentListing      = "listing-fetcher"
	ComponentDetail       = "detail-fetcher"
	ComponentOrchestrator = "orchestrator"
	ComponentStore        = "store"
	ComponentRateLimit    = "ratelimit"
	ComponentCLI          = "bgg-sync"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name. Matching is case-insensitive and
// "warning" is accepted for LevelWarn.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger derived from the global one with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request URLs, inter-batch pauses
//
// Info: progress of a run
//   - Listing page p of n, detail batch b of n
//   - Identifiers inserted, records saved
//   - Cooldown waits
//
// Warn: recoverable conditions
//   - Retry attempts (attempt, remaining)
//   - Throttling responses (429/503)
//   - Remote errors before retry
//
// Error: a run is aborted
//   - Retry attempts exhausted
//   - Malformed responses
//   - Store open/close failures
//
// Context Fields:
//   - component: see Component* constants
//   - page, pages: listing page progress
//   - batch, batches, size: detail batch progress
//   - operation, attempt, remaining: retry progress
//   - endpoint, status, error_class: remote request outcome
//   - inserted, saved, records: store results
