package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/overpass-layer/internal/app"
	"github.com/mohammed-shakir/overpass-layer/internal/core/config"
	"github.com/mohammed-shakir/overpass-layer/internal/logger"
	"github.com/mohammed-shakir/overpass-layer/internal/tui"
)

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
	if *bboxFlag != "" {
		b, err := config.ParseBBox(*bboxFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid -bbox:", err)
			return 2
		}
		cfg.InitialBBox = b
	}

	// stdout belongs to the terminal UI
	var out io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open log file:", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Component: "overpass-tui"}, out)
	appLog := logger.NewSlog(&zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := tui.NewBridge(0, appLog)
	a, err := app.New(ctx, cfg, appLog, bridge)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup failed:", err)
		return 1
	}

	prog := tea.NewProgram(tui.New(a.View, a.Layer), tea.WithAltScreen())

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "attach failed:", err)
		_ = a.Close()
		return 1
	}

	var g errgroup.Group
	g.Go(func() error {
		bridge.Forward(prog)
		return nil
	})
	g.Go(func() error {
		_, err := prog.Run()
		// the layer must be detached before the bridge closes
		if cerr := a.Close(); cerr != nil {
			appLog.Warn("shutdown", "err", cerr)
		}
		bridge.Close()
		return err
	})
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		return 1
	}
	return 0
}
