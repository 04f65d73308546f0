package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/overpass-layer/internal/app"
	"github.com/mohammed-shakir/overpass-layer/internal/core/config"
	"github.com/mohammed-shakir/overpass-layer/internal/core/server"
	"github.com/mohammed-shakir/overpass-layer/internal/logger"
	"github.com/mohammed-shakir/overpass-layer/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	queryFlag := flag.String("query", "", "overpass query template with {{bbox}}")
	bboxFlag := flag.String("bbox", "", "initial viewport west,south,east,north")
	flag.Parse()

	cfg := config.FromEnv()
	if q := strings.TrimSpace(*queryFlag); q != "" {
		cfg.Overpass.Query = q
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "overpass-layer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if *bboxFlag != "" {
		b, err := config.ParseBBox(*bboxFlag)
		if err != nil {
			appLog.Error("invalid -bbox", "err", err)
			return 2
		}
		cfg.InitialBBox = b
	}

	p := metrics.Init(metrics.Config{Enabled: true, Version: Version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("starting overpass-layer",
		"addr", cfg.Addr,
		"version", Version,
		"endpoint", cfg.Overpass.Endpoint,
		"min_zoom", cfg.Overpass.MinZoom)

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("shutdown", "err", err)
		}
	}()
	if err := a.Start(ctx); err != nil {
		appLog.Error("attach failed", "err", err)
		return 1
	}

	if err := server.Run(ctx, appLog, server.Options{
		Addr:      cfg.Addr,
		LayerName: "pois",
		Metrics:   p.Handler(),
		Ready:     a.ReadyChecks(),
		Routes:    a.RouterDeps(),
	}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
