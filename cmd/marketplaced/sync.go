package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/feverup/marketplace/internal/bucket"
	"github.com/feverup/marketplace/internal/cache"
	"github.com/feverup/marketplace/internal/config"
	"github.com/feverup/marketplace/internal/metrics"
	"github.com/feverup/marketplace/internal/provider"
	"github.com/feverup/marketplace/internal/store"
	"github.com/feverup/marketplace/internal/syncer"
)

const oneShotTimeout = 2 * time.Minute

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one catalog sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncOnce(cmd.Context())
		},
	}
}

func runSyncOnce(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	m := metrics.NewNop()

	pg, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	buckets, err := bucket.New(cfg.Redis.URL, cfg.Redis.DialTimeout, logger,
		bucket.WithKeyPrefix(cfg.Cache.KeyPrefix))
	if err != nil {
		return err
	}
	defer buckets.Close()

	strategy := cache.New(buckets, pg, nil, cfg.Cache.MaxMonthsPerQuery, m, logger)
	client := provider.NewClient(cfg.Provider, m, logger)
	pipeline := syncer.New(client, strategy, pg, m, logger)

	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	return pipeline.SyncOnce(ctx)
}
