package host

import (
	"math"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

const TileSize = 256

const maxMercatorLat = 85.05112878

func mercX(lon float64) float64 { return (lon + 180.0) / 360.0 }

func mercY(lat float64) float64 {
	lat = math.Min(maxMercatorLat, math.Max(-maxMercatorLat, lat))
	rad := lat * math.Pi / 180.0
	s := math.Sin(rad)
	return 0.5 - math.Log((1+s)/(1-s))/(4*math.Pi)
}

func lonFromMerc(x float64) float64 { return x*360.0 - 180.0 }

func latFromMerc(y float64) float64 {
	n := math.Pi - 2*math.Pi*y
	return 180.0 / math.Pi * math.Atan(math.Sinh(n))
}

func worldSize(z float64) float64 { return TileSize * math.Exp2(z) }

// LonLatToPixel returns world-pixel coordinates at zoom z.
func LonLatToPixel(p model.LatLng, z float64) (px, py float64) {
	ws := worldSize(z)
	return mercX(p.Lng) * ws, mercY(p.Lat) * ws
}

func PixelToLonLat(px, py, z float64) model.LatLng {
	ws := worldSize(z)
	return model.LatLng{Lat: latFromMerc(py / ws), Lng: lonFromMerc(px / ws)}
}

// BoundsAt returns the rectangle visible in a w x h pixel viewport centred on c.
func BoundsAt(c model.LatLng, z float64, w, h int) model.Rectangle {
	cx, cy := LonLatToPixel(c, z)
	hw, hh := float64(w)/2, float64(h)/2
	nw := PixelToLonLat(cx-hw, cy-hh, z)
	se := PixelToLonLat(cx+hw, cy+hh, z)
	return model.NewRectangle(nw, se)
}

// FitZoom returns the fractional zoom at which r spans w pixels horizontally.
func FitZoom(r model.Rectangle, w int) float64 {
	if r.Width() <= 0 || w <= 0 {
		return 0
	}
	return math.Log2(360.0 * float64(w) / (TileSize * r.Width()))
}
