package detail

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/bgg-sync/pkg/client"
	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/ratelimit"
	"github.com/Sternrassler/bgg-sync/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Detail API limits.
const (
	// DefaultChunkSize is the number of identifiers per detail request.
	DefaultChunkSize = 100

	// DefaultInterBatchDelay is the pause between two detail requests.
	DefaultInterBatchDelay = 120 * time.Second
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_detail_batches_total",
		Help: "Total detail batches processed by result",
	}, []string{"result"})

	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bgg_detail_records_total",
		Help: "Total detail records produced",
	})
)

// BatchFetcher fetches the raw detail document for one batch of identifiers.
type BatchFetcher interface {
	FetchThings(ctx context.Context, ids []string) ([]byte, error)
}

// Pacer performs the pause between two batches.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration) error
}

// Checkpoint receives the records of each completed batch (1-based).
// An error aborts the fetch like a batch failure.
type Checkpoint func(ctx context.Context, batch int, records []Record) error

// FailurePolicy decides what a failed fetch hands back to the caller.
type FailurePolicy int

const (
	// DiscardOnFailure returns no records when any batch fails.
	DiscardOnFailure FailurePolicy = iota

	// ReturnCompleted returns the records of every batch completed before the failure,
	// together with the error.
	ReturnCompleted
)

// Config holds detail fetcher configuration.
type Config struct {
	// ChunkSize is the number of identifiers per request.
	ChunkSize int

	// InterBatchDelay is the default pause between batches. Zero disables
	// pacing; DefaultConfig sets DefaultInterBatchDelay.
	InterBatchDelay time.Duration

	// Retry wraps each batch request. Nil sends every batch exactly once.
	// Zero fields take the values of retry.DefaultPolicy.
	Retry *retry.Policy

	// FailurePolicy controls partial results on failure.
	FailurePolicy FailurePolicy

	// OnBatch is the default checkpoint.
	OnBatch Checkpoint
}

// DefaultConfig returns the detail configuration: 100 identifiers per request,
// 120s between requests, three attempts per batch.
func DefaultConfig() Config {
	policy := retry.DefaultPolicy("detail_batch")
	return Config{
		ChunkSize:       DefaultChunkSize,
		InterBatchDelay: DefaultInterBatchDelay,
		Retry:           &policy,
	}
}

// Fetcher turns identifiers into detail records, one request per batch.
type Fetcher struct {
	fetcher BatchFetcher
	pacer   Pacer
	config  Config
	logger  zerolog.Logger
}

// NewFetcher creates a new detail fetcher. A nil pacer sleeps in-process.
func NewFetcher(fetcher BatchFetcher, pacer Pacer, cfg Config) *Fetcher {
	logger := logging.NewLogger(logging.ComponentDetail)

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.InterBatchDelay < 0 {
		cfg.InterBatchDelay = 0
	}
	if pacer == nil {
		pacer = ratelimit.NewTracker(nil, logger)
	}
	if cfg.Retry != nil {
		policy := cfg.Retry.WithDefaults("detail_batch")
		if policy.Retryable == nil {
			policy.Retryable = client.IsRetryable
		}
		policy = policy.WithLogging(logger)
		cfg.Retry = &policy
	}

	return &Fetcher{
		fetcher: fetcher,
		pacer:   pacer,
		config:  cfg,
		logger:  logger,
	}
}

// BatchCount returns the number of batches needed for n identifiers.
func BatchCount(n, chunkSize int) int {
	if n <= 0 || chunkSize <= 0 {
		return 0
	}
	return (n + chunkSize - 1) / chunkSize
}

// Fetch returns one record per identifier, in input order, pausing the
// configured InterBatchDelay between batches.
func (f *Fetcher) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	return f.FetchWithDelay(ctx, ids, f.config.InterBatchDelay)
}

// FetchWithDelay is Fetch with an explicit inter-batch delay.
// The delay is never applied after the last batch.
func (f *Fetcher) FetchWithDelay(ctx context.Context, ids []string, delay time.Duration) ([]Record, error) {
	return f.FetchWithCheckpoint(ctx, ids, delay, nil)
}

// FetchWithCheckpoint is FetchWithDelay with a per-call checkpoint.
// A nil checkpoint falls back to Config.OnBatch.
func (f *Fetcher) FetchWithCheckpoint(ctx context.Context, ids []string, delay time.Duration, checkpoint Checkpoint) ([]Record, error) {
	if checkpoint == nil {
		checkpoint = f.config.OnBatch
	}

	records := make([]Record, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	start := time.Now()
	chunk := f.config.ChunkSize
	batches := BatchCount(len(ids), chunk)

	f.logger.Info().
		Int("identifiers", len(ids)).
		Int("batches", batches).
		Dur("delay", delay).
		Msg("Starting detail fetch")

	for b := 1; b <= batches; b++ {
		lo := (b - 1) * chunk
		hi := min(b*chunk, len(ids))
		batch := ids[lo:hi]

		f.logger.Info().
			Int("batch", b).
			Int("batches", batches).
			Int("size", len(batch)).
			Msg("Fetching detail batch")

		batchRecords, err := f.fetchBatch(ctx, batch)
		if err != nil {
			batchesTotal.WithLabelValues("failed").Inc()
			return f.fail(records, fmt.Errorf("detail batch %d/%d: %w", b, batches, err))
		}

		batchesTotal.WithLabelValues("ok").Inc()
		recordsTotal.Add(float64(len(batchRecords)))
		records = append(records, batchRecords...)

		if checkpoint != nil {
			if err := checkpoint(ctx, b, batchRecords); err != nil {
				return f.fail(records, fmt.Errorf("checkpoint batch %d/%d: %w", b, batches, err))
			}
		}

		if b < batches {
			if err := f.pacer.Pause(ctx, delay); err != nil {
				return f.fail(records, fmt.Errorf("pause after batch %d/%d: %w", b, batches, err))
			}
		}
	}

	f.logger.Info().
		Int("records", len(records)).
		Int("batches", batches).
		Dur("duration", time.Since(start)).
		Msg("Detail fetch complete")

	return records, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []string) ([]Record, error) {
	op := func(ctx context.Context) ([]Record, error) {
		data, err := f.fetcher.FetchThings(ctx, batch)
		if err != nil {
			return nil, err
		}
		return ParseDetailBatch(data, batch)
	}

	if f.config.Retry == nil {
		return op(ctx)
	}
	return retry.Do(ctx, *f.config.Retry, op)
}

func (f *Fetcher) fail(completed []Record, err error) ([]Record, error) {
	f.logger.Error().
		Err(err).
		Int("completed_records", len(completed)).
		Msg("Detail fetch aborted")

	if f.config.FailurePolicy == ReturnCompleted {
		return completed, err
	}
	return nil, err
}
