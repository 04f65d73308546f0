// Package tui is a terminal map host for the POI layer. Panning and zooming
// move a host.View; every key-driven move is one settle. Features arrive
// through a Bridge and are drawn as braille dots.
package tui

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohammed-shakir/overpass-layer/internal/address"
	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/host"
	"github.com/mohammed-shakir/overpass-layer/internal/layer"
)

// screen pixels covered by one terminal cell; one braille dot is 4x4
const (
	cellPxW = 8
	cellPxH = 16

	minZoomLevel = 2
	maxZoomLevel = 19

	headerHeight = 1
	footerHeight = 2

	pollInterval = 500 * time.Millisecond
	pollTimeout  = time.Second
)

// Source is the part of the layer the TUI polls for its status line.
type Source interface {
	Stats(ctx context.Context) (layer.Stats, error)
	DebugBoxes(ctx context.Context) (layer.DebugBoxes, error)
}

type tickMsg struct{}

type statsMsg struct {
	stats layer.Stats
	boxes layer.DebugBoxes
	err   error
}

type Model struct {
	view *host.View
	src  Source

	width, height int
	mapW, mapH    int

	center model.LatLng
	zoom   float64

	features []model.Feature
	stats    layer.Stats
	boxes    layer.DebugBoxes
	pollErr  error

	showBoxes bool
	popup     string
	status    string

	keys keyMap
	help help.Model
	spin spinner.Model
}

// New centres the map on the view's current bounds.
func New(view *host.View, src Source) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = accentStyle
	h := help.New()
	h.ShowAll = false
	return Model{
		view:   view,
		src:    src,
		center: view.Bounds().Center(),
		zoom:   view.Zoom(),
		keys:   defaultKeys(),
		help:   h,
		spin:   sp,
		status: "overpass-layer ready",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) poll() tea.Cmd {
	src, withBoxes := m.src, m.showBoxes
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()
		var out statsMsg
		out.stats, out.err = src.Stats(ctx)
		if out.err == nil && withBoxes {
			out.boxes, out.err = src.DebugBoxes(ctx)
		}
		return out
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.mapW = max(10, m.width)
		m.mapH = max(4, m.height-headerHeight-footerHeight)
		m.help.Width = m.width
		m.settle()
		return m, nil

	case FeaturesMsg:
		m.features = append(m.features, msg.Features...)
		return m, nil

	case ResetMsg:
		m.features = nil
		m.popup = ""
		return m, nil

	case tickMsg:
		if m.src == nil {
			return m, tick()
		}
		return m, tea.Batch(m.poll(), tick())

	case statsMsg:
		m.pollErr = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.boxes = msg.boxes
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.onKey(msg)
	}
	return m, nil
}

func (m Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.popup != "" && key.Matches(msg, m.keys.Close, m.keys.Inspect) {
		m.popup = ""
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.pan(0, -1)
	case key.Matches(msg, m.keys.Down):
		m.pan(0, 1)
	case key.Matches(msg, m.keys.Left):
		m.pan(-1, 0)
	case key.Matches(msg, m.keys.Right):
		m.pan(1, 0)
	case key.Matches(msg, m.keys.ZoomIn):
		m.zoomBy(1)
	case key.Matches(msg, m.keys.ZoomOut):
		m.zoomBy(-1)
	case key.Matches(msg, m.keys.Inspect):
		m.inspect()
	case key.Matches(msg, m.keys.Boxes):
		m.showBoxes = !m.showBoxes
		m.status = fmt.Sprintf("debug boxes: %v", m.showBoxes)
		if m.showBoxes && m.src != nil {
			return m, m.poll()
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// pan moves the centre by a quarter of the map in the given direction.
func (m *Model) pan(dx, dy int) {
	w, h := m.viewportPx()
	cx, cy := host.LonLatToPixel(m.center, m.zoom)
	cx += float64(dx) * float64(w) / 4
	cy += float64(dy) * float64(h) / 4
	m.center = host.PixelToLonLat(cx, cy, m.zoom).Wrap()
	m.settle()
}

func (m *Model) zoomBy(d float64) {
	z := math.Min(maxZoomLevel, math.Max(minZoomLevel, math.Round(m.zoom)+d))
	if z == m.zoom {
		return
	}
	m.zoom = z
	m.status = fmt.Sprintf("zoom: %g", m.zoom)
	m.settle()
}

// settle publishes the visible bounds to the host view.
func (m *Model) settle() {
	if m.mapW == 0 || m.view == nil {
		return
	}
	m.view.Set(m.bounds(), m.zoom)
}

func (m Model) viewportPx() (int, int) { return m.mapW * cellPxW, m.mapH * cellPxH }

func (m Model) bounds() model.Rectangle {
	w, h := m.viewportPx()
	return host.BoundsAt(m.center, m.zoom, w, h)
}

// micro projects p onto the braille micro grid of the current map.
func (m Model) micro(p model.LatLng) (float64, float64) {
	w, h := m.viewportPx()
	cx, cy := host.LonLatToPixel(m.center, m.zoom)
	px, py := host.LonLatToPixel(p, m.zoom)
	return (px - cx + float64(w)/2) / (cellPxW / 2), (py - cy + float64(h)/2) / (cellPxH / 4)
}

// nearest returns the visible feature closest to the map centre.
func (m Model) nearest() (model.Feature, bool) {
	var (
		best  model.Feature
		bestD = math.Inf(1)
		found bool
	)
	cx, cy := float64(m.mapW), float64(m.mapH*2)
	for _, f := range m.features {
		x, y := m.micro(f.Position())
		if x < 0 || y < 0 || x >= float64(m.mapW*2) || y >= float64(m.mapH*4) {
			continue
		}
		if d := math.Hypot(x-cx, y-cy); d < bestD {
			best, bestD, found = f, d, true
		}
	}
	return best, found
}

func (m *Model) inspect() {
	f, ok := m.nearest()
	if !ok {
		m.status = "no feature in view"
		return
	}
	card := address.Format(f.Tags)
	width := min(60, max(24, m.width-4))
	title := f.Key()
	if name := f.Tag("name"); name != "" {
		title = name + " (" + title + ")"
	}
	m.popup = titleStyle.Render(title) + "\n\n" + card.Render(width)
	m.status = "address: " + f.Key()
}
