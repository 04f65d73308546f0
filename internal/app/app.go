// Package app assembles the layer, its fetcher and its sinks from config.
// Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/overpass-layer/internal/core/config"
	"github.com/mohammed-shakir/overpass-layer/internal/core/health"
	"github.com/mohammed-shakir/overpass-layer/internal/core/httpclient"
	"github.com/mohammed-shakir/overpass-layer/internal/core/router"
	"github.com/mohammed-shakir/overpass-layer/internal/featureevents"
	"github.com/mohammed-shakir/overpass-layer/internal/featurestore"
	"github.com/mohammed-shakir/overpass-layer/internal/host"
	"github.com/mohammed-shakir/overpass-layer/internal/layer"
	"github.com/mohammed-shakir/overpass-layer/internal/overpass"
)

const publishQueue = 1024

type App struct {
	Layer *layer.Layer
	View  *host.View
	// Store and Events are nil when disabled.
	Store  *featurestore.Store
	Events *featureevents.Publisher

	redis  *featurestore.Client
	logger *slog.Logger
}

// New wires a detached layer. Extra renderers receive every batch after the
// configured sinks.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...layer.Renderer) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{
		View:   host.NewView(cfg.InitialBBox, cfg.InitialZoom),
		logger: logger,
	}

	oc := cfg.Overpass
	client := overpass.NewClient(logger, httpclient.NewOutbound(2*oc.Timeout),
		overpass.WithUserAgent(oc.UserAgent),
		overpass.WithRateLimit(oc.RateLimitRPS, oc.RateLimitBurst),
	)
	var fetcher overpass.Fetcher = client
	if oc.ResponseCacheSize > 0 {
		fetcher = overpass.NewCachingFetcher(client, oc.ResponseCacheSize, oc.ResponseCacheTTL)
	}

	var sinks layer.MultiRenderer
	if cfg.Redis.Enabled {
		cli, err := featurestore.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, fmt.Errorf("feature store: %w", err)
		}
		st, err := featurestore.New(cli, featurestore.Config{
			Namespace:  featurestore.Namespace(oc.Query),
			TTL:        cfg.Redis.FeatureTTL,
			Resolution: cfg.Redis.H3Res,
		}, logger)
		if err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("feature store: %w", err)
		}
		a.redis, a.Store = cli, st
		sinks = append(sinks, st)
		logger.Info("feature store enabled", "addr", cfg.Redis.Addr, "h3_res", cfg.Redis.H3Res)
	}
	if cfg.Kafka.Enabled {
		pub, err := featureevents.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic, publishQueue, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("feature events: %w", err)
		}
		pub.SetNamespace(featurestore.Namespace(oc.Query))
		a.Events = pub
		sinks = append(sinks, pub)
		logger.Info("feature events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	sinks = append(sinks, extra...)

	opts := layer.DefaultOptions()
	opts.Endpoint = oc.Endpoint
	opts.Query = oc.Query
	opts.MinZoom = oc.MinZoom
	opts.Timeout = oc.Timeout
	opts.RetryOnTimeout = oc.RetryOnTimeout
	opts.NoInitialRequest = oc.NoInitialRequest
	opts.Debug = oc.Debug
	opts.Renderer = sinks

	l, err := layer.New(opts, fetcher, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Layer = l
	return a, nil
}

// Start attaches the layer to the view.
func (a *App) Start(ctx context.Context) error {
	return a.Layer.Attach(ctx, a.View)
}

// SetQuery swaps the query. The store and the publisher follow it to the
// matching namespace on the layer's loop.
func (a *App) SetQuery(ctx context.Context, q string) error {
	return a.Layer.SetQuery(ctx, q)
}

// RouterDeps exposes the app to the HTTP API.
func (a *App) RouterDeps() router.Deps {
	d := router.Deps{
		Logger: a.logger,
		Layer:  a.Layer,
		View:   a.View,
	}
	if a.Store != nil {
		d.Store = a.Store
	}
	return d
}

func (a *App) ReadyChecks() map[string]health.Check {
	checks := map[string]health.Check{
		"layer": func(context.Context) error {
			if a.Layer == nil || !a.Layer.Attached() {
				return layer.ErrNotAttached
			}
			return nil
		},
	}
	if a.Store != nil {
		checks["redis"] = a.Store.Ping
	}
	return checks
}

// Close detaches the layer and flushes the sinks.
func (a *App) Close() error {
	var errs []error
	if a.Layer != nil && a.Layer.Attached() {
		if err := a.Layer.Detach(); err != nil && !errors.Is(err, layer.ErrNotAttached) {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	return errors.Join(errs...)
}
