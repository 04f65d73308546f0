package layer

import (
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

const (
	requestBoxColor  = "#204a87"
	responseBoxColor = "#000000"
)

// DebugBoxes holds the rectangles a debugging host draws as overlays:
// bounds of requests in flight and bounds whose responses have arrived.
type DebugBoxes struct {
	Requested []model.Rectangle `json:"requested"`
	Fetched   []model.Rectangle `json:"fetched"`
}

// FeatureCollection exports the boxes as polygons with styling properties.
func (d DebugBoxes) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range d.Requested {
		f := geojson.NewFeature(r.Bound().ToPolygon())
		f.Properties["kind"] = "request"
		f.Properties["color"] = requestBoxColor
		f.Properties["fillOpacity"] = 0.1
		fc.Append(f)
	}
	for _, r := range d.Fetched {
		f := geojson.NewFeature(r.Bound().ToPolygon())
		f.Properties["kind"] = "response"
		f.Properties["color"] = responseBoxColor
		f.Properties["weight"] = 2
		f.Properties["fill"] = false
		fc.Append(f)
	}
	return fc
}

type debugBoxes struct {
	enabled   bool
	requested []model.Rectangle
	fetched   []model.Rectangle
}

func (d *debugBoxes) request(r model.Rectangle) {
	if d.enabled {
		d.requested = append(d.requested, r)
	}
}

func (d *debugBoxes) drop(r model.Rectangle) {
	for i, b := range d.requested {
		if b == r {
			d.requested = append(d.requested[:i], d.requested[i+1:]...)
			return
		}
	}
}

// promote moves every outstanding request box to the response set.
func (d *debugBoxes) promote() {
	d.fetched = append(d.fetched, d.requested...)
	d.requested = nil
}

func (d *debugBoxes) reset() {
	d.requested = nil
	d.fetched = nil
}

func (d *debugBoxes) snapshot() DebugBoxes {
	return DebugBoxes{
		Requested: append([]model.Rectangle{}, d.requested...),
		Fetched:   append([]model.Rectangle{}, d.fetched...),
	}
}
