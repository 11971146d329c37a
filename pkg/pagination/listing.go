package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bgg-sync/pkg/client"
	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultPageSize is the number of entries on one listing page.
const DefaultPageSize = 100

var (
	// ErrInvalidCount is returned when fewer than one identifier is requested.
	ErrInvalidCount = errors.New("listing count must be >= 1")

	// ErrMalformedListing is returned when a listing row cannot be parsed.
	ErrMalformedListing = errors.New("malformed listing page")
)

var listingPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bgg_listing_pages_total",
	Help: "Total listing pages processed by result",
}, []string{"result"})

// PageFetcher fetches the raw content of one listing page (1-based).
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) ([]byte, error)
}

// ParseFunc extracts exactly pageSize identifiers from a page.
type ParseFunc func(data []byte, pageSize int) ([]string, error)

// Config holds listing fetcher configuration.
type Config struct {
	// PageSize is the number of rows per listing page.
	PageSize int

	// Retry wraps each page fetch+parse. Zero fields take the values of
	// retry.DefaultPolicy.
	Retry retry.Policy

	// Parse extracts identifiers from a page. Nil uses ParseListingPage.
	Parse ParseFunc
}

// DefaultConfig returns the listing configuration: 100 rows per page,
// three attempts per page.
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
		Retry:    retry.DefaultPolicy("listing_page"),
	}
}

// ListingFetcher collects the top-ranked identifiers.
type ListingFetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewListingFetcher creates a new listing fetcher.
func NewListingFetcher(fetcher PageFetcher, config Config) *ListingFetcher {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	config.Retry = config.Retry.WithDefaults("listing_page")
	if config.Retry.Retryable == nil {
		config.Retry.Retryable = IsRetryablePageError
	}
	if config.Parse == nil {
		config.Parse = ParseListingPage
	}

	logger := logging.NewLogger(logging.ComponentListing)
	config.Retry = config.Retry.WithLogging(logger)

	return &ListingFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// IsRetryablePageError reports whether a page should be fetched again:
// transient remote failures and malformed rows both qualify.
func IsRetryablePageError(err error) bool {
	return errors.Is(err, ErrMalformedListing) || client.IsRetryable(err)
}

// PageCount returns the number of pages needed for n entries.
func PageCount(n, pageSize int) int {
	if n <= 0 || pageSize <= 0 {
		return 0
	}
	return (n-1)/pageSize + 1
}

// Fetch returns the first n identifiers in rank order.
func (f *ListingFetcher) Fetch(ctx context.Context, n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCount, n)
	}

	start := time.Now()
	pages := PageCount(n, f.config.PageSize)

	f.logger.Info().
		Int("count", n).
		Int("pages", pages).
		Msg("Starting listing fetch")

	ids := make([]string, 0, pages*f.config.PageSize)
	for page := 1; page <= pages; page++ {
		f.logger.Info().
			Int("page", page).
			Int("pages", pages).
			Msg("Reading listing page")

		pageIDs, err := retry.Do(ctx, f.config.Retry, func(ctx context.Context) ([]string, error) {
			return f.fetchPage(ctx, page)
		})
		if err != nil {
			listingPagesTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("listing page %d/%d: %w", page, pages, err)
		}

		listingPagesTotal.WithLabelValues("ok").Inc()
		ids = append(ids, pageIDs...)
	}

	f.logger.Info().
		Int("count", n).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Listing fetch complete")

	return ids[:n], nil
}

// fetchPage is one attempt: fetch and parse a single page.
func (f *ListingFetcher) fetchPage(ctx context.Context, page int) ([]string, error) {
	data, err := f.fetcher.FetchPage(ctx, page)
	if err != nil {
		return nil, err
	}

	ids, err := f.config.Parse(data, f.config.PageSize)
	if err != nil {
		return nil, err
	}
	if len(ids) != f.config.PageSize {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrMalformedListing, len(ids), f.config.PageSize)
	}
	return ids, nil
}
