package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/overpass-layer/internal/core/health"
	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/core/router"
	"github.com/mohammed-shakir/overpass-layer/internal/layer"
)

type stubLayer struct{}

func (stubLayer) SetQuery(context.Context, string) error            { return nil }
func (stubLayer) Features(context.Context) ([]model.Feature, error) { return nil, nil }
func (stubLayer) Stats(context.Context) (layer.Stats, error) {
	return layer.Stats{State: layer.StateIdle}, nil
}
func (stubLayer) DebugBoxes(context.Context) (layer.DebugBoxes, error) {
	return layer.DebugBoxes{}, nil
}

type stubView struct{}

func (stubView) Set(model.Rectangle, float64) {}

func TestHandler_Routes(t *testing.T) {
	attached := true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Handler(logger, Options{
		LayerName: "test",
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
		Ready: map[string]health.Check{"layer": func(context.Context) error {
			if !attached {
				return errors.New("detached")
			}
			return nil
		}},
		Routes: router.Deps{Layer: stubLayer{}, View: stubView{}},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz=%d %q", code, body)
	}
	if code, _ := get("/readyz"); code != http.StatusOK {
		t.Fatalf("readyz=%d", code)
	}
	attached = false
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz detached=%d", code)
	}
	if code, body := get("/metrics"); code != http.StatusOK || !strings.HasPrefix(body, "# metrics") {
		t.Fatalf("metrics=%d %q", code, body)
	}
	if code, body := get("/stats"); code != http.StatusOK || !strings.Contains(body, `"state":"idle"`) {
		t.Fatalf("stats=%d %q", code, body)
	}
	if code, _ := get("/nope"); code != http.StatusNotFound {
		t.Fatalf("unknown route=%d", code)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, slog.New(slog.DiscardHandler), Options{
			Addr:   "127.0.0.1:0",
			Routes: router.Deps{Layer: stubLayer{}, View: stubView{}},
		})
	}()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
