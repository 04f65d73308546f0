package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("not a json line: %q: %v", b, err)
	}
	return m
}

func TestNewSlog_WritesZerologJSONWithContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "test"}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log := NewSlog(&zl).With("static", 1)
	ctx := WithLayer(WithRequestID(context.Background(), "req-1"), "organic")
	log.WarnContext(ctx, "overpass request failed", "kind", "status", "err", errors.New("boom"))

	m := decodeLine(t, buf.Bytes())
	checks := map[string]any{
		"msg":        "overpass request failed",
		"level":      "warn",
		"component":  "test",
		"request_id": "req-1",
		"layer":      "organic",
		"kind":       "status",
		"err":        "boom",
		"static":     float64(1),
	}
	for k, want := range checks {
		if m[k] != want {
			t.Fatalf("%s=%v want %v (line %v)", k, m[k], want, m)
		}
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("missing timestamp")
	}
}

func TestNewSlog_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log := NewSlog(&zl)
	log.Info("dropped")
	log.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %q", buf.String())
	}
	log.Error("kept")
	if decodeLine(t, buf.Bytes())["level"] != "error" {
		t.Fatalf("unexpected line %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel, " WARN ": zerolog.WarnLevel,
		"error": zerolog.ErrorLevel, "": zerolog.InfoLevel, "bogus": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if len(RequestID(ctx)) != 16 {
		t.Fatalf("generated id=%q", RequestID(ctx))
	}
}

func TestNewSlog_GroupsBecomeDottedKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)

	log := NewSlog(&zl).WithGroup("overpass").With("endpoint", "local")
	log.Info("request", slog.Group("bbox", "west", 1.5), "hits", 2)

	m := decodeLine(t, buf.Bytes())
	if m["overpass.endpoint"] != "local" || m["overpass.bbox.west"] != 1.5 || m["overpass.hits"] != float64(2) {
		t.Fatalf("line=%v", m)
	}
}
