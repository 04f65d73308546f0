package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/layer"
	"github.com/mohammed-shakir/overpass-layer/internal/overpass"
)

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	header := titleStyle.Render(" overpass-layer ─ points of interest ")
	header = lipgloss.NewStyle().Width(m.width).Render(header)

	var body string
	if m.popup != "" {
		box := popupStyle.MaxWidth(m.mapW).Render(m.popup)
		body = lipgloss.Place(m.mapW, m.mapH, lipgloss.Center, lipgloss.Center, box)
	} else {
		body = lipgloss.NewStyle().Width(m.mapW).Height(m.mapH).Render(m.renderMap())
	}

	status := m.statusLine()
	footer := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Width(m.width).MaxHeight(1).Render(status),
		lipgloss.NewStyle().Width(m.width).MaxHeight(1).Render(m.help.View(m.keys)),
	)

	ui := lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
	return appStyle.Width(m.width).Height(m.height).Render(ui)
}

func (m Model) renderMap() string {
	pois := newBrailleBuf(m.mapW, m.mapH)
	for _, f := range m.features {
		x, y := m.micro(f.Position())
		ix, iy := int(math.Floor(x)), int(math.Floor(y))
		pois.setPixel(ix, iy)
		pois.setPixel(ix+1, iy)
		pois.setPixel(ix, iy+1)
		pois.setPixel(ix+1, iy+1)
	}

	boxes := newBrailleBuf(m.mapW, m.mapH)
	if m.showBoxes {
		for _, r := range m.boxes.Requested {
			m.outline(boxes, r)
		}
		for _, r := range m.boxes.Fetched {
			m.outline(boxes, r)
		}
	}
	return strings.Join(compose(pois, boxes), "\n")
}

func (m Model) outline(b *brailleBuf, r model.Rectangle) {
	x0, y0 := m.micro(model.LatLng{Lat: r.North(), Lng: r.West()})
	x1, y1 := m.micro(model.LatLng{Lat: r.South(), Lng: r.East()})
	b.drawRect(clampInt(x0), clampInt(y0), clampInt(x1), clampInt(y1))
}

// clampInt keeps far off-screen coordinates from overflowing before
// drawRect clamps them to the canvas.
func clampInt(v float64) int {
	const limit = 1 << 20
	return int(math.Max(-limit, math.Min(limit, math.Floor(v))))
}

// compose overlays the POI canvas on the box canvas; a cell that holds a
// POI dot takes the POI colour.
func compose(pois, boxes *brailleBuf) []string {
	p, b := pois.toLines(), boxes.toLines()
	out := make([]string, len(p))
	for y := range p {
		pr, br := []rune(p[y]), []rune(b[y])
		var sb strings.Builder
		var run []rune
		cur := -1
		flush := func() {
			if len(run) == 0 {
				return
			}
			switch cur {
			case 1:
				sb.WriteString(poiStyle.Render(string(run)))
			case 2:
				sb.WriteString(boxStyle.Render(string(run)))
			default:
				sb.WriteString(string(run))
			}
			run = run[:0]
		}
		for x := range pr {
			r, kind := pr[x], 1
			switch {
			case pr[x] != ' ' && br[x] != ' ':
				r = pr[x] | br[x]
			case pr[x] == ' ' && br[x] != ' ':
				r, kind = br[x], 2
			case pr[x] == ' ':
				kind = 0
			}
			if kind != cur {
				flush()
				cur = kind
			}
			run = append(run, r)
		}
		flush()
		out[y] = sb.String()
	}
	return out
}

func (m Model) statusLine() string {
	st := m.stats
	parts := []string{fmt.Sprintf("z=%g", m.zoom)}

	switch {
	case m.pollErr != nil:
		parts = append(parts, errStyle.Render("layer: "+m.pollErr.Error()))
	case st.State != "" && st.State != layer.StateIdle:
		parts = append(parts, m.spin.View()+" loading…")
	case st.LastOutcome == overpass.KindTimeout:
		parts = append(parts, errStyle.Render("timeout"))
	case st.LastOutcome != "" && st.LastOutcome != overpass.KindOK && st.LastOutcome != overpass.KindVetoed:
		parts = append(parts, errStyle.Render("error: "+st.LastOutcome))
	}
	if st.MinZoomMessage != "" {
		parts = append(parts, st.MinZoomMessage)
	}
	parts = append(parts,
		fmt.Sprintf("features=%d", len(m.features)),
		fmt.Sprintf("requests=%d", st.RequestsSent),
		fmt.Sprintf("covered=%d", st.CoveredRegions),
	)
	if m.status != "" {
		parts = append(parts, dimStyle.Render(m.status))
	}
	return " " + strings.Join(parts, "  ")
}
