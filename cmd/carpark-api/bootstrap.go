package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CarparkFinder/config"
	"github.com/BearBump/CarparkFinder/internal/broker/kafka"
	"github.com/BearBump/CarparkFinder/internal/broker/messages"
	"github.com/BearBump/CarparkFinder/internal/cache"
	"github.com/BearBump/CarparkFinder/internal/cache/memcache"
	"github.com/BearBump/CarparkFinder/internal/cache/rediscache"
	"github.com/BearBump/CarparkFinder/internal/integrations/feed/feedfactory"
	"github.com/BearBump/CarparkFinder/internal/services/carparks"
	"github.com/BearBump/CarparkFinder/internal/services/feedsync"
	"github.com/BearBump/CarparkFinder/internal/storage/pgcarpark"
)

type carparkAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     carparkAPIOpts
	svc      *carparks.Service
	consumer *kafka.Consumer
	closers  []func()
}

func mustBootstrapCarparkAPI() *carparkAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.CarparkFinder.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.CarparkFinder.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "carpark-api"
	}
	topic := cfg.Kafka.FeedSyncedTopicName
	if topic == "" {
		topic = messages.TopicFeedSynced
	}
	cacheTTL := time.Duration(cfg.CarparkFinder.CarparksCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	app := &carparkAPIApp{}

	st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
	app.closers = append(app.closers, st.Close)

	var (
		bc cache.BytesCache
		rl carparks.RateLimiter
	)
	if addr := cfg.Redis.Addr(); addr != "" {
		rc := rediscache.New(addr)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		bc = rc
		rl = rediscache.NewRateLimiter(addr)
	} else {
		mc := memcache.New(cacheTTL, 2*cacheTTL)
		bc = mc
		rl = mc
	}

	svc := carparks.New(st, bc, cacheTTL)
	if perMin := cfg.CarparkFinder.RefreshOnReadPerMinute; perMin > 0 {
		client, err := feedfactory.New(cfg.Feed, st)
		if err != nil {
			panic(fmt.Sprintf("failed to build feed client: %v", err))
		}
		avail, info := cfg.Feed.Cooldowns()
		// no producer: the worker owns the change feed, the API only needs fresh rows
		syncer := feedsync.New(st, client, nil, topic).
			WithThrottle(feedsync.ThrottleConfig{AvailabilityCooldown: avail, InformationCooldown: info}).
			WithDisabled(cfg.Feed.Disabled)
		svc.WithRefresher(syncer, rl, int64(perMin))
	}
	app.svc = svc

	if addr := cfg.Kafka.Addr(); addr != "" {
		app.consumer = kafka.NewConsumer([]string{addr}, topic, consumerGroup)
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = carparkAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
	}
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgcarpark.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgcarpark.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *carparkAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *carparkAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runCarparkAPI(a.ctx, a.opts, a.svc, consumer)
}
