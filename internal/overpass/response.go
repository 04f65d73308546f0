package overpass

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

type Response struct {
	Version   float64   `json:"version"`
	Generator string    `json:"generator"`
	OSM3S     OSM3S     `json:"osm3s"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}

type OSM3S struct {
	TimestampOSMBase string `json:"timestamp_osm_base"`
	Copyright        string `json:"copyright"`
}

// Element is a node, way or relation; ways and relations carry a center when
// the query used "out center".
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat,omitempty"`
	Lon    *float64          `json:"lon,omitempty"`
	Center *model.LatLng     `json:"-"`
	Tags   map[string]string `json:"tags,omitempty"`
}

func (e *Element) UnmarshalJSON(b []byte) error {
	type plain Element
	var tmp struct {
		plain
		Center *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center"`
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*e = Element(tmp.plain)
	if tmp.Center != nil {
		e.Center = &model.LatLng{Lat: tmp.Center.Lat, Lng: tmp.Center.Lon}
	}
	return nil
}

// Position returns the node coordinate, or the center for ways/relations.
func (e Element) Position() (model.LatLng, bool) {
	if e.Lat != nil && e.Lon != nil {
		return model.LatLng{Lat: *e.Lat, Lng: *e.Lon}, true
	}
	if e.Center != nil {
		return *e.Center, true
	}
	return model.LatLng{}, false
}

// Decode parses an interpreter JSON body. Any failure is a
// MalformedResponseError, including a body whose remark reports a runtime
// error: the interpreter answers 200 with partial elements when a query is
// aborted.
func Decode(body []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if r.Elements == nil {
		return nil, &MalformedResponseError{Err: errors.New(`missing "elements"`)}
	}
	if IsRuntimeRemark(r.Remark) {
		return nil, &MalformedResponseError{Err: errors.New("remark: " + r.Remark)}
	}
	return &r, nil
}

// IsRuntimeRemark reports whether remark is the interpreter's notice of an
// aborted query, such as a timeout or running out of memory.
func IsRuntimeRemark(remark string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(remark)), "runtime error")
}

// Features converts positioned elements; elements without a position are skipped.
func (r *Response) Features() []model.Feature {
	out := make([]model.Feature, 0, len(r.Elements))
	for _, e := range r.Elements {
		p, ok := e.Position()
		if !ok {
			continue
		}
		out = append(out, model.Feature{
			ID:   e.ID,
			Type: e.Type,
			Lat:  p.Lat,
			Lon:  p.Lng,
			Tags: e.Tags,
		})
	}
	return out
}
