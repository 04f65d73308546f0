package layer

import (
	"strconv"
)

// MinZoomMessage is the hint a host shows while the map is zoomed out too far
// for the layer to fetch. It returns "" when zoom is sufficient.
func MinZoomMessage(zoom, minZoom float64) string {
	if zoom >= minZoom {
		return ""
	}
	return "Current zoom Level: " + formatZoom(zoom) +
		". Data are visible at Level: " + formatZoom(minZoom) + "."
}

func formatZoom(z float64) string {
	return strconv.FormatFloat(z, 'f', -1, 64)
}
