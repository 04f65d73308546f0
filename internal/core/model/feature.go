package model

import "strconv"

// Feature is one point of interest returned by the query service.
type Feature struct {
	ID   int64             `json:"id"`
	Type string            `json:"type"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Key identifies a feature across responses; element ids are unique per type.
func (f Feature) Key() string {
	return f.Type + "/" + strconv.FormatInt(f.ID, 10)
}

func (f Feature) Position() LatLng { return LatLng{Lat: f.Lat, Lng: f.Lon} }

// Tag returns the tag value or "" when absent.
func (f Feature) Tag(k string) string {
	if f.Tags == nil {
		return ""
	}
	return f.Tags[k]
}
