package layer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/overpass"
)

const (
	DefaultMinZoom = 17
	DefaultTimeout = 30 * time.Second
)

var (
	ErrAttached      = errors.New("layer: already attached")
	ErrNotAttached   = errors.New("layer: not attached")
	ErrNoPlaceholder = fmt.Errorf("layer: query has no %s placeholder", overpass.BBoxPlaceholder)
)

// Host is the map the layer attaches to.
type Host interface {
	Bounds() model.Rectangle
	Zoom() float64
	// OnSettle registers fn to run after every pan/zoom and returns a
	// function that removes it.
	OnSettle(fn func()) (unsubscribe func())
}

// Renderer receives features the first time they are seen. It is called on
// the layer's loop and must not block.
type Renderer interface {
	Render(ctx context.Context, features []model.Feature)
}

type RendererFunc func(ctx context.Context, features []model.Feature)

func (f RendererFunc) Render(ctx context.Context, features []model.Feature) { f(ctx, features) }

// MultiRenderer fans every batch out to each renderer in order. Reset and
// QueryChanged are forwarded to the renderers that implement them.
type MultiRenderer []Renderer

func (m MultiRenderer) Render(ctx context.Context, features []model.Feature) {
	for _, r := range m {
		if r != nil {
			r.Render(ctx, features)
		}
	}
}

func (m MultiRenderer) Reset(ctx context.Context) {
	for _, r := range m {
		if rs, ok := r.(Resetter); ok {
			rs.Reset(ctx)
		}
	}
}

func (m MultiRenderer) QueryChanged(ctx context.Context, query string) {
	for _, r := range m {
		if o, ok := r.(QueryObserver); ok {
			o.QueryChanged(ctx, query)
		}
	}
}

// Options configures a Layer. Hooks run on the layer's loop; they must not
// call back into the layer synchronously.
type Options struct {
	Endpoint         string
	Query            string
	MinZoom          float64
	Timeout          time.Duration
	RetryOnTimeout   bool
	NoInitialRequest bool
	Debug            bool

	// BeforeRequest returning false vetoes the request.
	BeforeRequest func() bool
	AfterRequest  func()
	OnSuccess     func(resp *overpass.Response)
	OnError       func(err error)
	OnTimeout     func(err error)

	Renderer Renderer
}

func DefaultOptions() Options {
	return Options{
		Endpoint: overpass.DefaultEndpoint,
		Query:    overpass.DefaultQuery,
		MinZoom:  DefaultMinZoom,
		Timeout:  DefaultTimeout,
	}
}

func (o Options) validate() error {
	if o.Endpoint == "" {
		return errors.New("layer: endpoint is required")
	}
	if !overpass.HasPlaceholder(o.Query) {
		return ErrNoPlaceholder
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("layer: timeout must be positive, got %s", o.Timeout)
	}
	return nil
}
