// Command poi-indexer reads feature discovery events from Kafka into the
// Redis feature store and serves cell lookups over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/overpass-layer/internal/core/config"
	"github.com/mohammed-shakir/overpass-layer/internal/core/health"
	"github.com/mohammed-shakir/overpass-layer/internal/core/router"
	"github.com/mohammed-shakir/overpass-layer/internal/core/server"
	"github.com/mohammed-shakir/overpass-layer/internal/featureevents"
	"github.com/mohammed-shakir/overpass-layer/internal/featurestore"
	"github.com/mohammed-shakir/overpass-layer/internal/logger"
	"github.com/mohammed-shakir/overpass-layer/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "poi-indexer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{Enabled: true, Version: Version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli, err := featurestore.Dial(ctx, cfg.Redis.Addr)
	if err != nil {
		appLog.Error("redis", "addr", cfg.Redis.Addr, "err", err)
		return 1
	}
	defer func() { _ = cli.Close() }()

	// events carry their own namespace; this one serves lookups and events
	// published without one
	store, err := featurestore.New(cli, featurestore.Config{
		Namespace:  featurestore.Namespace(cfg.Overpass.Query),
		TTL:        cfg.Redis.FeatureTTL,
		Resolution: cfg.Redis.H3Res,
	}, appLog)
	if err != nil {
		appLog.Error("feature store", "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	consumer := featureevents.NewConsumer(featureevents.ConsumerConfig{
		Brokers:             cfg.Kafka.Brokers,
		Topic:               cfg.Kafka.Topic,
		GroupID:             cfg.Kafka.GroupID,
		InitialOffsetOldest: cfg.Kafka.OffsetOldest,
	}, store, appLog)

	appLog.Info("starting poi-indexer",
		"addr", cfg.Addr,
		"version", Version,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.GroupID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		return server.Run(gctx, appLog, server.Options{
			Addr:      cfg.Addr,
			LayerName: "indexer",
			Metrics:   p.Handler(),
			Ready:     map[string]health.Check{"redis": store.Ping},
			Routes:    router.Deps{Store: store},
		})
	})
	if err := g.Wait(); err != nil {
		appLog.Error("poi-indexer exited with error", "err", err)
		return 1
	}
	appLog.Info("poi-indexer stopped")
	return 0
}
