// Package orchestrator runs the two refresh flows against the store: inserting
// newly ranked identifiers, and enriching stored identifiers with details.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bgg-sync/pkg/detail"
	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/store"
	"github.com/rs/zerolog"
)

// Store is the persistence collaborator used by the orchestrator.
type Store interface {
	LoadIdentifiers(ctx context.Context) ([]string, error)
	LoadRecords(ctx context.Context, filter store.Filter) ([]store.PartialRecord, error)
	DiffAndInsertIdentifiers(ctx context.Context, ids []string) (int, error)
	SaveRecords(ctx context.Context, records []detail.Record) error
	Close() error
}

// StoreOpener acquires a store handle for the duration of one refresh.
type StoreOpener func(ctx context.Context) (Store, error)

// Listing returns the top-n ranked identifiers.
type Listing interface {
	Fetch(ctx context.Context, n int) ([]string, error)
}

// Details returns one record per identifier. checkpoint, when non-nil, is
// called with each completed batch.
type Details interface {
	FetchWithCheckpoint(ctx context.Context, ids []string, delay time.Duration, checkpoint detail.Checkpoint) ([]detail.Record, error)
}

// Config holds orchestrator configuration.
type Config struct {
	// TopN is the listing size used when RefreshIdentifiers gets topN <= 0.
	TopN int

	// BulkDelay is the inter-batch delay of a full refresh.
	BulkDelay time.Duration

	// NewOnlyDelay is the inter-batch delay when only unenriched records are refreshed.
	NewOnlyDelay time.Duration

	// PersistPerBatch saves each detail batch as soon as it completes instead
	// of saving everything at the end.
	PersistPerBatch bool
}

// DefaultConfig returns the orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		TopN:         5,
		BulkDelay:    60 * time.Second,
		NewOnlyDelay: 0,
	}
}

// Orchestrator coordinates fetchers and the store.
type Orchestrator struct {
	open    StoreOpener
	listing Listing
	details Details
	config  Config
	logger  zerolog.Logger
}

// New creates a new orchestrator.
func New(open StoreOpener, listing Listing, details Details, cfg Config) *Orchestrator {
	return &Orchestrator{
		open:    open,
		listing: listing,
		details: details,
		config:  cfg,
		logger:  logging.NewLogger(logging.ComponentOrchestrator),
	}
}

// RefreshIdentifiers fetches the top topN identifiers and inserts those not yet stored.
// The store is opened only after the listing has been fetched.
func (o *Orchestrator) RefreshIdentifiers(ctx context.Context, topN int) (int, error) {
	if topN <= 0 {
		topN = o.config.TopN
	}

	ids, err := o.listing.Fetch(ctx, topN)
	if err != nil {
		return 0, fmt.Errorf("fetch listing: %w", err)
	}

	var inserted int
	err = o.withStore(ctx, func(s Store) error {
		n, err := s.DiffAndInsertIdentifiers(ctx, ids)
		if err != nil {
			return fmt.Errorf("insert identifiers: %w", err)
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	o.logger.Info().
		Int("top_n", topN).
		Int("inserted", inserted).
		Msg("Identifier refresh complete")

	return inserted, nil
}

// RefreshDetails enriches stored records with details and returns the number
// of records saved. newOnly restricts the refresh to records without a name
// and uses the NewOnlyDelay between batches; otherwise every stored record is
// refreshed with BulkDelay.
func (o *Orchestrator) RefreshDetails(ctx context.Context, newOnly bool) (int, error) {
	delay := o.config.BulkDelay
	if newOnly {
		delay = o.config.NewOnlyDelay
	}

	var saved int
	err := o.withStore(ctx, func(s Store) error {
		partial, err := s.LoadRecords(ctx, store.Filter{UnenrichedOnly: newOnly})
		if err != nil {
			return fmt.Errorf("load records: %w", err)
		}

		ids := make([]string, len(partial))
		for i, p := range partial {
			ids[i] = p.ID
		}

		o.logger.Info().
			Bool("new_only", newOnly).
			Int("ids", len(ids)).
			Dur("delay", delay).
			Msg("Refreshing details")

		if len(ids) == 0 {
			return nil
		}

		var checkpoint detail.Checkpoint
		if o.config.PersistPerBatch {
			checkpoint = func(ctx context.Context, batch int, records []detail.Record) error {
				if err := s.SaveRecords(ctx, records); err != nil {
					return err
				}
				saved += len(records)
				return nil
			}
		}

		records, err := o.details.FetchWithCheckpoint(ctx, ids, delay, checkpoint)
		if err != nil {
			return fmt.Errorf("fetch details: %w", err)
		}

		if o.config.PersistPerBatch {
			return nil
		}
		if err := s.SaveRecords(ctx, records); err != nil {
			return fmt.Errorf("save records: %w", err)
		}
		saved = len(records)
		return nil
	})
	if err != nil {
		return saved, err
	}

	o.logger.Info().
		Bool("new_only", newOnly).
		Int("saved", saved).
		Msg("Detail refresh complete")

	return saved, nil
}

// withStore opens a store, runs fn and closes the store on every path.
// A close failure is joined with fn's error.
func (o *Orchestrator) withStore(ctx context.Context, fn func(Store) error) (err error) {
	s, err := o.open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			o.logger.Error().Err(closeErr).Msg("Failed to close store")
			err = errors.Join(err, fmt.Errorf("close store: %w", closeErr))
		}
	}()

	return fn(s)
}
