// Package coverage tracks which map regions have already been fetched.
package coverage

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

// coordinates are scaled into a fixed-point integer space before the
// polygon difference is computed
const scale = 1e6

// IsFullyCovered reports whether no part of target lies outside the union of
// covered. A failure in the polygon operation counts as "not covered".
func IsFullyCovered(target model.Rectangle, covered []model.Rectangle) bool {
	ok, err := fullyCovered(target, covered)
	return err == nil && ok
}

func fullyCovered(target model.Rectangle, covered []model.Rectangle) (bool, error) {
	if len(covered) == 0 {
		return false, nil
	}

	var overlapping []model.Rectangle
	for _, c := range covered {
		if c.ContainsRect(target) {
			return true, nil
		}
		if c.IsEmpty() || !c.Intersects(target) {
			continue
		}
		overlapping = append(overlapping, c)
	}
	if len(overlapping) == 0 || target.IsEmpty() {
		return false, nil
	}

	rest, err := polygon(target)
	if err != nil {
		return false, fmt.Errorf("target polygon: %w", err)
	}
	for _, c := range overlapping {
		clip, err := polygon(c)
		if err != nil {
			return false, fmt.Errorf("covered polygon %s: %w", c, err)
		}
		rest, err = geom.Difference(rest, clip)
		if err != nil {
			return false, fmt.Errorf("difference: %w", err)
		}
		if rest.IsEmpty() {
			return true, nil
		}
	}
	return rest.IsEmpty(), nil
}

func polygon(r model.Rectangle) (geom.Geometry, error) {
	x1, y1 := fixed(r.West()), fixed(r.South())
	x2, y2 := fixed(r.East()), fixed(r.North())
	wkt := fmt.Sprintf("POLYGON((%d %d,%d %d,%d %d,%d %d,%d %d))",
		x1, y1, x1, y2, x2, y2, x2, y1, x1, y1)
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("parse wkt: %w", err)
	}
	return g, nil
}

func fixed(v float64) int64 {
	return int64(math.Round(v * scale))
}

// Tracker holds the covered region set of one layer. It is not safe for
// concurrent use; the owning layer mutates it from a single goroutine.
type Tracker struct {
	logger  *slog.Logger
	regions []model.Rectangle
}

func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{logger: logger}
}

// Record appends r to the covered set. No merging is performed.
func (t *Tracker) Record(r model.Rectangle) {
	t.regions = append(t.regions, r)
}

func (t *Tracker) Covers(r model.Rectangle) bool {
	ok, err := fullyCovered(r, t.regions)
	if err != nil {
		t.logger.Warn("coverage check failed, treating as uncovered",
			"bounds", r.String(), "regions", len(t.regions), "err", err)
		return false
	}
	return ok
}

func (t *Tracker) Regions() []model.Rectangle {
	out := make([]model.Rectangle, len(t.regions))
	copy(out, t.regions)
	return out
}

func (t *Tracker) Len() int { return len(t.regions) }

func (t *Tracker) Reset() { t.regions = nil }
