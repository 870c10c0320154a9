package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/feverup/marketplace/internal/bucket"
	"github.com/feverup/marketplace/internal/cache"
	"github.com/feverup/marketplace/internal/config"
	"github.com/feverup/marketplace/internal/httpapi"
	"github.com/feverup/marketplace/internal/metrics"
	"github.com/feverup/marketplace/internal/provider"
	"github.com/feverup/marketplace/internal/search"
	"github.com/feverup/marketplace/internal/store"
	"github.com/feverup/marketplace/internal/syncer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic catalog sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	pg, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	buckets, err := bucket.New(cfg.Redis.URL, cfg.Redis.DialTimeout, logger,
		bucket.WithKeyPrefix(cfg.Cache.KeyPrefix),
		bucket.WithTTLPolicy(bucket.TTLPolicy{
			Current:  cfg.Cache.CurrentMonthTTL,
			Normal:   cfg.Cache.TTL,
			LongTerm: cfg.Cache.LongTermTTL,
			Tiered:   cfg.Cache.EnableTieredTTL,
		}))
	if err != nil {
		return err
	}
	defer buckets.Close()

	pool := search.NewFillPool(cfg.Search.FillWorkers, cfg.Search.FillQueue, logger)
	strategy := cache.New(buckets, pg, pool, cfg.Cache.MaxMonthsPerQuery, m, logger)
	composer := search.NewComposer(strategy, pg, pool, m, logger)

	client := provider.NewClient(cfg.Provider, m, logger)
	pipeline := syncer.New(client, strategy, pg, m, logger)
	scheduler := syncer.NewScheduler(pipeline, cfg.Sync.Interval, cfg.Sync.Enabled, logger)

	server := httpapi.NewServer(cfg.HTTP.ListenAddr, composer, pg, buckets, reg, cfg.HTTP.ShutdownTimeout, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	logger.Info("marketplaced started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("marketplaced stopped")
	return nil
}
