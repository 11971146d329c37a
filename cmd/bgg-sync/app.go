package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/bgg-sync/pkg/client"
	"github.com/Sternrassler/bgg-sync/pkg/config"
	"github.com/Sternrassler/bgg-sync/pkg/detail"
	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/orchestrator"
	"github.com/Sternrassler/bgg-sync/pkg/pagination"
	"github.com/Sternrassler/bgg-sync/pkg/ratelimit"
	"github.com/Sternrassler/bgg-sync/pkg/store"
	"github.com/redis/go-redis/v9"
)

// app is the wired pipeline for one invocation.
type app struct {
	config       config.Config
	redis        *redis.Client
	tracker      *ratelimit.Tracker
	orchestrator *orchestrator.Orchestrator
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.NewLogger(logging.ComponentCLI)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis, pacing state is shared")
	}

	tracker := ratelimit.NewTracker(redisClient, logging.NewLogger(logging.ComponentRateLimit))

	bgg, err := client.New(client.Config{
		BrowseURL: cfg.BrowseURL,
		APIURL:    cfg.APIURL,
		UserAgent: cfg.UserAgent,
		APIToken:  cfg.APIToken,
		Timeout:   cfg.Timeout,
		Tracker:   tracker,
	})
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("create client: %w", err)
	}

	listing := pagination.NewListingFetcher(bgg, pagination.DefaultConfig())

	detailCfg := detail.DefaultConfig()
	detailCfg.InterBatchDelay = cfg.DetailDelay
	if !cfg.DetailRetry {
		detailCfg.Retry = nil
	}
	details := detail.NewFetcher(bgg, tracker, detailCfg)

	open := func(ctx context.Context) (orchestrator.Store, error) {
		s, err := store.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	orch := orchestrator.New(open, listing, details, orchestrator.Config{
		TopN:            cfg.TopN,
		BulkDelay:       cfg.BulkDelay,
		NewOnlyDelay:    cfg.NewOnlyDelay,
		PersistPerBatch: cfg.PersistPerBatch,
	})

	return &app{
		config:       cfg,
		redis:        redisClient,
		tracker:      tracker,
		orchestrator: orch,
	}, nil
}

// Close releases the Redis connection, if any.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
