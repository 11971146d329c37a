// Package client provides the HTTP transport to the remote catalog source:
// the ranked browse listing and the XML detail API. It classifies failures
// for the retry layer and feeds throttling signals to the rate limit tracker.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_requests_total",
		Help: "Total requests to the remote source by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bgg_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Endpoint labels.
const (
	EndpointListing = "listing"
	EndpointThing   = "thing"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (other than 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassQueued represents 202 Accepted: the detail API queued the
	// request and the result must be fetched again later.
	ErrorClassQueued ErrorClass = "queued"
)

// Config holds the client configuration.
type Config struct {
	// BrowseURL is the ranked listing base; pages live at <BrowseURL>/page/<n>.
	BrowseURL string

	// APIURL is the detail API base; items live at <APIURL>/thing.
	APIURL string

	// UserAgent header sent with every request.
	UserAgent string

	// APIToken is sent as a bearer token when set.
	APIToken string

	// Timeout per request.
	Timeout time.Duration

	// Tracker gates requests during throttling cooldowns.
	// Nil creates an in-memory tracker.
	Tracker *ratelimit.Tracker
}

// DefaultConfig returns a configuration pointing at the public site.
func DefaultConfig(userAgent string) Config {
	return Config{
		BrowseURL: "https://boardgamegeek.com/browse/boardgame",
		APIURL:    "https://boardgamegeek.com/xmlapi2",
		UserAgent: userAgent,
		Timeout:   120 * time.Second,
	}
}

// Client fetches raw listing pages and detail batches.
type Client struct {
	http    *resty.Client
	tracker *ratelimit.Tracker
	config  Config
	logger  zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BrowseURL == "" {
		return nil, fmt.Errorf("browse url is required")
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	logger := logging.NewLogger(logging.ComponentClient)

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, logger)
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.APIToken != "" {
		httpClient.SetAuthToken(cfg.APIToken)
	}

	return &Client{
		http:    httpClient,
		tracker: tracker,
		config:  cfg,
		logger:  logger,
	}, nil
}

// FetchPage fetches one page of the ranked listing (1-based).
func (c *Client) FetchPage(ctx context.Context, page int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1 (got %d)", page)
	}
	pageURL := strings.TrimRight(c.config.BrowseURL, "/") + "/page/" + strconv.Itoa(page)
	return c.get(ctx, EndpointListing, pageURL, nil)
}

// FetchThings fetches the detail document for a batch of identifiers.
func (c *Client) FetchThings(ctx context.Context, ids []string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, ErrNoIdentifiers
	}

	query := url.Values{}
	query.Set("type", "boardgame")
	query.Set("id", strings.Join(ids, ","))
	query.Set("stats", "1")

	thingURL := strings.TrimRight(c.config.APIURL, "/") + "/thing"
	return c.get(ctx, EndpointThing, thingURL, query)
}

// get performs one GET request: cooldown gate, request, throttle bookkeeping
// and status classification. It never retries.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, query url.Values) ([]byte, error) {
	if err := c.tracker.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	// cooldown waits are not request latency
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", rawURL).
		Msg("Executing request")

	res, err := req.Get(rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s request: %w", endpoint, ctxErr)
		}
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &RemoteError{
			ErrorClass: ErrorClassNetwork,
			Endpoint:   endpoint,
			Message:    "request failed",
			Err:        err,
		}
	}

	status := res.StatusCode()
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

	if err := c.tracker.UpdateFromResponse(ctx, status, res.Header()); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
	}

	errClass := classifyStatus(status)
	if errClass == "" {
		return res.Body(), nil
	}

	errorsTotal.WithLabelValues(string(errClass)).Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", status).
		Str("error_class", string(errClass)).
		Msg("Remote request error")

	return nil, &RemoteError{
		StatusCode: status,
		ErrorClass: errClass,
		Endpoint:   endpoint,
		Message:    res.Status(),
	}
}

// classifyStatus maps an HTTP status to an error class; "" means success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusAccepted:
		return ErrorClassQueued
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// Tracker returns the rate limit tracker used by the client.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}
