package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/overpass-layer/internal/core/config"
	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/featurestore"
	"github.com/mohammed-shakir/overpass-layer/internal/layer"
)

const body = `{"version":0.6,"elements":[
	{"type":"node","id":7,"lat":51.5105,"lon":-0.126,"tags":{"organic":"only","addr:street":"Strand"}}
]}`

func overpassStub(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/interpreter" || !strings.HasPrefix(r.URL.Query().Get("data"), "[out:json];") {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(endpoint string) config.Config {
	cfg := config.FromEnv()
	cfg.Overpass.Endpoint = endpoint + "/"
	cfg.Overpass.RateLimitRPS = 0
	cfg.Overpass.Timeout = 2 * time.Second
	cfg.Redis.Enabled = false
	cfg.Kafka.Enabled = false
	cfg.InitialBBox = model.RectangleFromBBox(-0.1310, 51.5080, -0.1210, 51.5130)
	cfg.InitialZoom = 17
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApp_FetchesIntoRendererAndStore(t *testing.T) {
	srv, hits := overpassStub(t)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := testConfig(srv.URL)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	var got atomic.Int32
	seen := layer.RendererFunc(func(_ context.Context, fs []model.Feature) { got.Add(int32(len(fs))) })

	ctx := context.Background()
	a, err := New(ctx, cfg, nil, seen)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Store == nil || a.Events != nil {
		t.Fatalf("store=%v events=%v", a.Store, a.Events)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "renderer", func() bool { return got.Load() == 1 })
	waitFor(t, "store write", func() bool {
		fs, _, err := a.Store.InCell(ctx, model.LatLng{Lat: 51.5105, Lng: -0.126})
		return err == nil && len(fs) == 1 && fs[0].Tag("addr:street") == "Strand"
	})
	if hits.Load() != 1 {
		t.Fatalf("overpass hits=%d want 1", hits.Load())
	}

	for name, check := range a.ReadyChecks() {
		if err := check(ctx); err != nil {
			t.Fatalf("ready check %s: %v", name, err)
		}
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.ReadyChecks()["layer"](ctx); err == nil {
		t.Fatalf("layer check should fail after Close")
	}
}

func TestApp_SetQueryRefetches(t *testing.T) {
	srv, hits := overpassStub(t)
	ctx := context.Background()
	a, err := New(ctx, testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first fetch", func() bool {
		st, err := a.Layer.Stats(ctx)
		return err == nil && st.Features == 1 && st.State == layer.StateIdle
	})

	if err := a.SetQuery(ctx, "node"); err == nil {
		t.Fatalf("query without placeholder should be rejected")
	}
	if err := a.SetQuery(ctx, "node({{bbox}})[shop];out;"); err != nil {
		t.Fatalf("SetQuery: %v", err)
	}
	waitFor(t, "refetch", func() bool { return hits.Load() == 2 })

	// the cached body of the first query must not satisfy the switch back
	if err := a.SetQuery(ctx, testConfig(srv.URL).Overpass.Query); err != nil {
		t.Fatalf("SetQuery back: %v", err)
	}
	waitFor(t, "refetch of the first query", func() bool { return hits.Load() == 3 })

	deps := a.RouterDeps()
	if deps.Store != nil || deps.Layer == nil || deps.View == nil {
		t.Fatalf("deps=%+v", deps)
	}
}

func TestApp_SetQueryMovesStoreNamespace(t *testing.T) {
	srv, _ := overpassStub(t)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := testConfig(srv.URL)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	ctx := context.Background()
	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	oldKey := "feat:" + featurestore.Namespace(cfg.Overpass.Query) + ":node/7"
	waitFor(t, "first write", func() bool { return mr.Exists(oldKey) })

	q := "node({{bbox}})[shop];out;"
	if err := a.SetQuery(ctx, q); err != nil {
		t.Fatalf("SetQuery: %v", err)
	}
	newKey := "feat:" + featurestore.Namespace(q) + ":node/7"
	waitFor(t, "write under the new namespace", func() bool { return mr.Exists(newKey) })
	fs, _, err := a.Store.InCell(ctx, model.LatLng{Lat: 51.5105, Lng: -0.126})
	if err != nil || len(fs) != 1 {
		t.Fatalf("InCell after SetQuery=%+v err=%v", fs, err)
	}
}

func TestApp_RedisUnavailable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := New(ctx, cfg, nil); err == nil {
		t.Fatalf("expected dial error")
	}
}
