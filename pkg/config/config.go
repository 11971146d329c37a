// Package config loads the pipeline configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the complete pipeline configuration.
type Config struct {
	BrowseURL string        `env:"BGG_BROWSE_URL" envDefault:"https://boardgamegeek.com/browse/boardgame"`
	APIURL    string        `env:"BGG_API_URL" envDefault:"https://boardgamegeek.com/xmlapi2"`
	UserAgent string        `env:"BGG_USER_AGENT" envDefault:"bgg-sync/0.1.0"`
	APIToken  string        `env:"BGG_API_TOKEN"`
	Timeout   time.Duration `env:"BGG_HTTP_TIMEOUT" envDefault:"120s"`

	DBPath string `env:"BGG_DB_PATH" envDefault:"bgg.db"`
	TopN   int    `env:"BGG_TOP_N" envDefault:"5"`

	// DetailDelay is the default pause between detail batches.
	DetailDelay time.Duration `env:"BGG_DETAIL_DELAY" envDefault:"120s"`
	// BulkDelay is the pause between batches of a full detail refresh.
	BulkDelay time.Duration `env:"BGG_BULK_DELAY" envDefault:"60s"`
	// NewOnlyDelay is the pause between batches when only new records are enriched.
	NewOnlyDelay time.Duration `env:"BGG_NEW_ONLY_DELAY" envDefault:"0s"`

	DetailRetry     bool `env:"BGG_DETAIL_RETRY" envDefault:"true"`
	PersistPerBatch bool `env:"BGG_PERSIST_PER_BATCH" envDefault:"false"`

	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads the configuration from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	urls := []struct{ name, raw string }{
		{"BGG_BROWSE_URL", c.BrowseURL},
		{"BGG_API_URL", c.APIURL},
	}
	for _, u := range urls {
		name, raw := u.name, u.raw
		if raw == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			continue
		}
		if parsed, err := url.Parse(raw); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL (got %q)", name, raw))
		}
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("BGG_USER_AGENT is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("BGG_HTTP_TIMEOUT must be positive"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("BGG_DB_PATH is required"))
	}
	if c.TopN < 1 {
		errs = append(errs, fmt.Errorf("BGG_TOP_N must be >= 1 (got %d)", c.TopN))
	}
	if c.DetailDelay < 0 || c.BulkDelay < 0 || c.NewOnlyDelay < 0 {
		errs = append(errs, errors.New("batch delays must not be negative"))
	}

	return errors.Join(errs...)
}
