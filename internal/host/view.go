// Package host provides a map viewport that layers can attach to.
package host

import (
	"sort"
	"sync"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

// View is a headless, concurrency-safe viewport. Hosts (HTTP API, TUI) call
// Set after a pan/zoom settles; subscribers are notified synchronously.
type View struct {
	mu     sync.RWMutex
	bounds model.Rectangle
	zoom   float64
	nextID int
	subs   map[int]func()
}

func NewView(bounds model.Rectangle, zoom float64) *View {
	return &View{bounds: bounds, zoom: zoom, subs: map[int]func(){}}
}

func (v *View) Bounds() model.Rectangle {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.bounds
}

func (v *View) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}

// OnSettle registers fn and returns a function that removes it.
func (v *View) OnSettle(fn func()) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// Set moves the viewport and emits a settle event.
func (v *View) Set(bounds model.Rectangle, zoom float64) {
	v.mu.Lock()
	v.bounds = bounds
	v.zoom = zoom
	v.mu.Unlock()
	v.Settle()
}

// Settle notifies subscribers in registration order without holding the lock.
func (v *View) Settle() {
	v.mu.RLock()
	ids := make([]int, 0, len(v.subs))
	for id := range v.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, v.subs[id])
	}
	v.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (v *View) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}
