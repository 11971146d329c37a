// Package metrics exposes the Prometheus registry of the fetch pipeline.
// All metrics are defined in their respective packages (retry, client,
// ratelimit, pagination, detail, store) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all pipeline metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Retry Metrics (pkg/retry):
//   - bgg_retries_total{operation} (Counter): Retry attempts by operation (listing_page, detail_batch)
//   - bgg_retry_backoff_seconds{operation} (Histogram): Backoff before each retry
//   - bgg_retry_exhausted_total{operation} (Counter): Calls that failed on their final attempt
//
// Request Metrics (pkg/client):
//   - bgg_requests_total{endpoint, status} (Counter): Requests by endpoint (listing, thing) and HTTP status
//   - bgg_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - bgg_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, queued)
//
// Pacing Metrics (pkg/ratelimit):
//   - bgg_rate_limit_cooldown_seconds (Gauge): Length of the latest cooldown
//   - bgg_rate_limit_throttles_total (Counter): 429/503 responses received
//   - bgg_rate_limit_wait_seconds_total (Counter): Time spent waiting for cooldowns
//   - bgg_pacing_pause_seconds_total (Counter): Time spent in inter-batch pauses
//
// Pipeline Metrics (pkg/pagination, pkg/detail, pkg/store):
//   - bgg_listing_pages_total{result} (Counter): Listing pages fetched (ok, failed)
//   - bgg_detail_batches_total{result} (Counter): Detail batches fetched (ok, failed)
//   - bgg_detail_records_total (Counter): Detail records produced
//   - bgg_store_operations_total{operation, result} (Counter): Store operations
//
// Example Prometheus Queries:
//
//   # Detail batch failure ratio
//   rate(bgg_detail_batches_total{result="failed"}[1h]) / rate(bgg_detail_batches_total[1h])
//
//   # Throttling
//   increase(bgg_rate_limit_throttles_total[1h]) > 0
//
//   # P95 detail request latency
//   histogram_quantile(0.95, rate(bgg_request_duration_seconds_bucket{endpoint="thing"}[1h]))
