// Package router exposes the POI layer over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/overpass-layer/internal/address"
	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
	"github.com/mohammed-shakir/overpass-layer/internal/layer"
)

const maxQueryBytes = 64 << 10

// Layer is the subset of *layer.Layer the handlers use.
type Layer interface {
	SetQuery(ctx context.Context, query string) error
	Features(ctx context.Context) ([]model.Feature, error)
	Stats(ctx context.Context) (layer.Stats, error)
	DebugBoxes(ctx context.Context) (layer.DebugBoxes, error)
}

// Viewport is the host map the API drives.
type Viewport interface {
	Set(bounds model.Rectangle, zoom float64)
}

// CellStore looks features up by the H3 cell containing a point.
type CellStore interface {
	InCell(ctx context.Context, p model.LatLng) ([]model.Feature, string, error)
}

type Deps struct {
	Logger *slog.Logger
	Layer  Layer
	View   Viewport
	// Store is nil when the feature store is disabled.
	Store CellStore
}

// Mount registers the layer routes on r. Without a Layer and View only the
// store lookup is mounted.
func Mount(r chi.Router, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	h := &handlers{Deps: d}

	r.Method(http.MethodGet, "/store/cell", observe("/store/cell", h.storeCell))
	if d.Layer == nil || d.View == nil {
		return
	}
	r.Method(http.MethodGet, "/viewport", observe("/viewport", h.viewport))
	r.Method(http.MethodPost, "/viewport", observe("/viewport", h.viewport))
	r.Method(http.MethodGet, "/features", observe("/features", h.features))
	r.Method(http.MethodGet, "/features/{type}/{id}/address", observe("/features/address", h.address))
	r.Method(http.MethodPut, "/query", observe("/query", h.query))
	r.Method(http.MethodGet, "/stats", observe("/stats", h.stats))
	r.Method(http.MethodGet, "/debug/boxes", observe("/debug/boxes", h.debugBoxes))
}

type handlers struct {
	Deps
}

func observe(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handlers) viewport(w http.ResponseWriter, r *http.Request) {
	bounds, zoom, err := ParseViewport(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.View.Set(bounds, zoom)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"bbox": []float64{bounds.West(), bounds.South(), bounds.East(), bounds.North()},
		"zoom": zoom,
	})
}

func (h *handlers) features(w http.ResponseWriter, r *http.Request) {
	fs, err := h.Layer.Features(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeGeoJSON(w, FeatureCollection(fs))
}

func (h *handlers) address(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "type") + "/" + chi.URLParam(r, "id")
	fs, err := h.Layer.Features(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, f := range fs {
		if f.Key() == key {
			card := address.Format(f.Tags)
			writeJSON(w, http.StatusOK, struct {
				Key string `json:"key"`
				address.Card
			}{key, card})
			return
		}
	}
	http.Error(w, "feature not found: "+key, http.StatusNotFound)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBytes+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxQueryBytes {
		http.Error(w, "query too large", http.StatusRequestEntityTooLarge)
		return
	}
	q := strings.TrimSpace(string(body))
	if q == "" {
		http.Error(w, "empty query", http.StatusBadRequest)
		return
	}
	if err := h.Layer.SetQuery(r.Context(), q); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Logger.InfoContext(r.Context(), "query replaced via api", "query", q)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Layer.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) debugBoxes(w http.ResponseWriter, r *http.Request) {
	d, err := h.Layer.DebugBoxes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeGeoJSON(w, d.FeatureCollection())
}

func (h *handlers) storeCell(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		http.Error(w, "feature store disabled", http.StatusNotFound)
		return
	}
	p, err := parsePoint(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fs, cell, err := h.Store.InCell(r.Context(), p)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "feature store lookup failed", "err", err)
		http.Error(w, "feature store: "+err.Error(), http.StatusBadGateway)
		return
	}
	if fs == nil {
		fs = []model.Feature{}
	}
	writeJSON(w, http.StatusOK, struct {
		Cell     string          `json:"cell"`
		Features []model.Feature `json:"features"`
	}{cell, fs})
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, layer.ErrNoPlaceholder):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, layer.ErrNotAttached):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		h.Logger.ErrorContext(r.Context(), "layer call failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// FeatureCollection converts features to GeoJSON points; tags become
// properties next to the OSM type and id.
func FeatureCollection(fs []model.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		gf := geojson.NewFeature(orb.Point{f.Lon, f.Lat})
		gf.ID = f.Key()
		for k, v := range f.Tags {
			gf.Properties[k] = v
		}
		gf.Properties["osm_type"] = f.Type
		gf.Properties["osm_id"] = f.ID
		fc.Append(gf)
	}
	return fc
}

// ParseViewport reads bbox=west,south,east,north and zoom from the query
// string.
func ParseViewport(r *http.Request) (model.Rectangle, float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if raw == "" {
		return model.Rectangle{}, 0, errors.New("missing required parameter: bbox")
	}
	bounds, err := parseBBOX(raw)
	if err != nil {
		return model.Rectangle{}, 0, fmt.Errorf("invalid bbox: %w", err)
	}
	rawZoom := strings.TrimSpace(r.URL.Query().Get("zoom"))
	if rawZoom == "" {
		return model.Rectangle{}, 0, errors.New("missing required parameter: zoom")
	}
	zoom, err := parseFloat(rawZoom)
	if err != nil {
		return model.Rectangle{}, 0, fmt.Errorf("invalid zoom: %w", err)
	}
	if zoom < 0 || zoom > 30 {
		return model.Rectangle{}, 0, fmt.Errorf("zoom must be in [0,30], got %g", zoom)
	}
	return bounds, zoom, nil
}

// longitudes are not range checked; a panned map reports values past ±180
func parseBBOX(s string) (model.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.Rectangle{}, errors.New("expected 4 comma-separated values: west,south,east,north")
	}
	var v [4]float64
	names := [4]string{"west", "south", "east", "north"}
	for i, p := range parts {
		f, err := parseFloat(p)
		if err != nil {
			return model.Rectangle{}, fmt.Errorf("%s: %w", names[i], err)
		}
		v[i] = f
	}
	west, south, east, north := v[0], v[1], v[2], v[3]
	if !(south >= -90 && south <= 90 && north >= -90 && north <= 90) {
		return model.Rectangle{}, errors.New("latitude must be in [-90,90]")
	}
	if east <= west || north <= south {
		return model.Rectangle{}, errors.New("coordinates must satisfy east>west and north>south")
	}
	return model.RectangleFromBBox(west, south, east, north), nil
}

func parsePoint(r *http.Request) (model.LatLng, error) {
	lat, err := parseFloat(r.URL.Query().Get("lat"))
	if err != nil {
		return model.LatLng{}, fmt.Errorf("lat: %w", err)
	}
	lon, err := parseFloat(r.URL.Query().Get("lon"))
	if err != nil {
		return model.LatLng{}, fmt.Errorf("lon: %w", err)
	}
	if lat < -90 || lat > 90 {
		return model.LatLng{}, errors.New("latitude must be in [-90,90]")
	}
	return model.LatLng{Lat: lat, Lng: lon}.Wrap(), nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse float: %q is not finite", v)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	b, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, "encode geojson: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(b)
}
