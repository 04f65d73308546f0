// Package model defines core domain types shared across the service.
package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Wrap returns the point with longitude normalized into [-180, 180].
func (p LatLng) Wrap() LatLng {
	if p.Lng >= -180 && p.Lng <= 180 {
		return p
	}
	lng := math.Mod(p.Lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return LatLng{Lat: p.Lat, Lng: lng - 180}
}

// Rectangle is an axis-aligned region; SouthWest <= NorthEast component-wise.
type Rectangle struct {
	SouthWest LatLng `json:"south_west"`
	NorthEast LatLng `json:"north_east"`
}

// NewRectangle orders the two corners so that the result is normalized.
func NewRectangle(a, b LatLng) Rectangle {
	return Rectangle{
		SouthWest: LatLng{Lat: math.Min(a.Lat, b.Lat), Lng: math.Min(a.Lng, b.Lng)},
		NorthEast: LatLng{Lat: math.Max(a.Lat, b.Lat), Lng: math.Max(a.Lng, b.Lng)},
	}
}

// RectangleFromBBox builds a rectangle from west,south,east,north order.
func RectangleFromBBox(west, south, east, north float64) Rectangle {
	return NewRectangle(LatLng{Lat: south, Lng: west}, LatLng{Lat: north, Lng: east})
}

func (r Rectangle) South() float64 { return r.SouthWest.Lat }
func (r Rectangle) West() float64  { return r.SouthWest.Lng }
func (r Rectangle) North() float64 { return r.NorthEast.Lat }
func (r Rectangle) East() float64  { return r.NorthEast.Lng }

func (r Rectangle) Width() float64 { return math.Abs(r.NorthEast.Lng - r.SouthWest.Lng) }

func (r Rectangle) Height() float64 { return math.Abs(r.NorthEast.Lat - r.SouthWest.Lat) }

func (r Rectangle) Center() LatLng {
	return LatLng{
		Lat: (r.SouthWest.Lat + r.NorthEast.Lat) / 2,
		Lng: (r.SouthWest.Lng + r.NorthEast.Lng) / 2,
	}
}

func (r Rectangle) IsEmpty() bool { return r.Width() == 0 || r.Height() == 0 }

// Contains reports whether p lies inside r, edges included.
func (r Rectangle) Contains(p LatLng) bool {
	return p.Lat >= r.SouthWest.Lat && p.Lat <= r.NorthEast.Lat &&
		p.Lng >= r.SouthWest.Lng && p.Lng <= r.NorthEast.Lng
}

// ContainsRect reports whether o lies entirely inside r.
func (r Rectangle) ContainsRect(o Rectangle) bool {
	return r.Contains(o.SouthWest) && r.Contains(o.NorthEast)
}

// Intersects reports whether r and o share any point, edges included.
func (r Rectangle) Intersects(o Rectangle) bool {
	return r.SouthWest.Lat <= o.NorthEast.Lat && o.SouthWest.Lat <= r.NorthEast.Lat &&
		r.SouthWest.Lng <= o.NorthEast.Lng && o.SouthWest.Lng <= r.NorthEast.Lng
}

// String returns "south,west,north,east", the Overpass bbox order.
func (r Rectangle) String() string {
	parts := []string{
		formatCoord(r.SouthWest.Lat),
		formatCoord(r.SouthWest.Lng),
		formatCoord(r.NorthEast.Lat),
		formatCoord(r.NorthEast.Lng),
	}
	return strings.Join(parts, ",")
}

func (r Rectangle) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.SouthWest.Lng, r.SouthWest.Lat},
		Max: orb.Point{r.NorthEast.Lng, r.NorthEast.Lat},
	}
}

func RectangleFromBound(b orb.Bound) Rectangle {
	return RectangleFromBBox(b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat())
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
