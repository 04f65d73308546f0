package layer

import (
	"math"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

// Expand grows r on every side by half of its larger dimension, wraps both
// corners into [-180, 180] and re-orders them.
func Expand(r model.Rectangle) model.Rectangle {
	d := math.Max(r.Width(), r.Height()) / 2
	sw := model.LatLng{Lat: r.South() - d, Lng: r.West() - d}.Wrap()
	ne := model.LatLng{Lat: r.North() + d, Lng: r.East() + d}.Wrap()
	return model.NewRectangle(sw, ne)
}

// expandForCoverage is the first expansion, applied when a viewport change is
// handled. The coverage check runs against its result.
func expandForCoverage(viewport model.Rectangle) model.Rectangle { return Expand(viewport) }

// expandForRequest is applied to the coverage bounds once more. The request
// URL and the region recorded as covered both use it.
func expandForRequest(coverageBounds model.Rectangle) model.Rectangle { return Expand(coverageBounds) }
