package host

import (
	"math"
	"sync"
	"testing"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

func TestView_SetNotifiesSubscribers(t *testing.T) {
	v := NewView(model.RectangleFromBBox(0, 0, 1, 1), 10)

	var mu sync.Mutex
	var seen []model.Rectangle
	unsub := v.OnSettle(func() {
		mu.Lock()
		seen = append(seen, v.Bounds())
		mu.Unlock()
	})

	r := model.RectangleFromBBox(11, 55, 12, 56)
	v.Set(r, 17)
	if v.Zoom() != 17 {
		t.Fatalf("zoom=%g", v.Zoom())
	}
	if len(seen) != 1 || seen[0] != r {
		t.Fatalf("subscriber saw %+v", seen)
	}

	unsub()
	unsub()
	v.Set(model.RectangleFromBBox(0, 0, 2, 2), 18)
	if len(seen) != 1 {
		t.Fatalf("unsubscribed callback still fired")
	}
	if v.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", v.Subscribers())
	}
}

func TestView_CallbackMayReadView(t *testing.T) {
	v := NewView(model.Rectangle{}, 0)
	done := make(chan float64, 1)
	v.OnSettle(func() { done <- v.Zoom() })
	v.Set(model.RectangleFromBBox(0, 0, 1, 1), 3)
	if z := <-done; z != 3 {
		t.Fatalf("zoom in callback=%g", z)
	}
}

func TestMercator_RoundTrip(t *testing.T) {
	p := model.LatLng{Lat: 55.7, Lng: -2.16}
	px, py := LonLatToPixel(p, 17)
	got := PixelToLonLat(px, py, 17)
	if math.Abs(got.Lat-p.Lat) > 1e-9 || math.Abs(got.Lng-p.Lng) > 1e-9 {
		t.Fatalf("round trip=%+v want %+v", got, p)
	}
}

func TestBoundsAt_AndFitZoom(t *testing.T) {
	c := model.LatLng{Lat: 0, Lng: 0}
	r := BoundsAt(c, 0, TileSize, TileSize)
	if math.Abs(r.West()+180) > 1e-9 || math.Abs(r.East()-180) > 1e-9 {
		t.Fatalf("zoom 0 should span the world: %s", r)
	}
	if z := FitZoom(r, TileSize); math.Abs(z) > 1e-9 {
		t.Fatalf("FitZoom=%g want 0", z)
	}

	r17 := BoundsAt(model.LatLng{Lat: 55.7, Lng: -2.16}, 17, 800, 600)
	if !r17.Contains(model.LatLng{Lat: 55.7, Lng: -2.16}) {
		t.Fatalf("centre not inside %s", r17)
	}
	if z := FitZoom(r17, 800); math.Abs(z-17) > 1e-6 {
		t.Fatalf("FitZoom=%g want 17", z)
	}
}
