package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BearBump/CarparkFinder/config"
	"github.com/BearBump/CarparkFinder/internal/broker/kafka"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed/feedfactory"
	"github.com/BearBump/CarparkFinder/internal/services/feedsync"
	"github.com/BearBump/CarparkFinder/internal/storage/pgcarpark"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// workerStorage is everything the worker needs from Postgres.
type workerStorage interface {
	feedsync.Repository
	feed.TokenStore
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage    func(cfg *config.Config) (repo workerStorage, closeFn func(), err error)
	newProducer   func(cfg *config.Config) (p feedsync.Producer, closeFn func())
	newFeedClient func(cfg *config.Config, tokens feed.TokenStore) (feed.Client, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pgcarpark.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (feedsync.Producer, func()) {
			addr := cfg.Kafka.Addr()
			if addr == "" {
				return nil, nil
			}
			p := kafka.NewProducer([]string{addr})
			return p, func() { _ = p.Close() }
		},
		newFeedClient: func(cfg *config.Config, tokens feed.TokenStore) (feed.Client, error) {
			return feedfactory.New(cfg.Feed, tokens)
		},
	}
}

type workerOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunCarparkWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	pollInterval := time.Duration(cfg.CarparkFinder.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	chunkSize := cfg.CarparkFinder.WorkerInsertChunkSize
	if chunkSize <= 0 {
		chunkSize = feedsync.DefaultInsertChunkSize
	}
	publishTries := cfg.Kafka.PublishMaxTries
	if publishTries <= 0 {
		publishTries = 5
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	feedClient, err := f.newFeedClient(cfg, repo)
	if err != nil {
		return err
	}

	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	avail, info := cfg.Feed.Cooldowns()
	s := feedsync.New(repo, feedClient, producer, cfg.Kafka.FeedSyncedTopicName).
		WithSettings(pollInterval, chunkSize, uint(publishTries)).
		WithThrottle(feedsync.ThrottleConfig{AvailabilityCooldown: avail, InformationCooldown: info}).
		WithDisabled(cfg.Feed.Disabled).
		WithMetrics(feedsync.NewMetrics(reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error {
		err := runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.CarparkFinder.WorkerHTTPAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			syncer:      s,
			storage:     repo,
			gatherer:    reg,
			cfg:         cfg,
		})
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}
