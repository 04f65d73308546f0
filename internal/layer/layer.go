// Package layer implements the Overpass POI layer: it watches a host map,
// fetches points of interest for regions not fetched before and hands new
// features to a renderer.
//
// All controller state is owned by one loop goroutine. Viewport changes,
// fetch outcomes and API calls are messages on a single FIFO channel, so
// outcomes are applied in completion order and no locks guard the state.
package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
	"github.com/mohammed-shakir/overpass-layer/internal/coverage"
	"github.com/mohammed-shakir/overpass-layer/internal/overpass"
)

const eventBuffer = 64

type State string

const (
	StateIdle            State = "idle"
	StateInFlight        State = "in_flight"
	StateInFlightPending State = "in_flight_pending"
)

type Stats struct {
	State          State   `json:"state"`
	Query          string  `json:"query"`
	Zoom           float64 `json:"zoom"`
	MinZoom        float64 `json:"min_zoom"`
	MinZoomMessage string  `json:"min_zoom_message,omitempty"`
	CoveredRegions int     `json:"covered_regions"`
	Features       int     `json:"features"`
	RequestsSent   int     `json:"requests_sent"`
	Pending        bool    `json:"pending"`
	LastOutcome    string  `json:"last_outcome,omitempty"`
}

// Resetter is implemented by renderers that drop what they drew when the
// layer resets its data.
type Resetter interface {
	Reset(ctx context.Context)
}

// QueryObserver is implemented by renderers that follow the active query.
// QueryChanged runs before anything is rendered for the new query.
type QueryObserver interface {
	QueryChanged(ctx context.Context, query string)
}

type viewportMsg struct {
	bounds model.Rectangle
	zoom   float64
}

type resultMsg struct {
	req  request
	body []byte
	err  error
	took time.Duration
}

type callMsg struct {
	fn   func(s *session)
	done chan struct{}
}

type request struct {
	gen     uint64
	bounds  model.Rectangle
	url     string
	attempt int
}

// session is one Attach..Detach period.
type session struct {
	ctx    context.Context
	stop   context.CancelFunc
	events chan any
	done   chan struct{}
	host   Host
	unsub  func()
}

func (s *session) post(m any) bool {
	select {
	case s.events <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

type Layer struct {
	opts    Options
	fetcher overpass.Fetcher
	logger  *slog.Logger

	mu   sync.Mutex
	sess *session

	// loop-owned while attached
	query       string
	gen         uint64
	tracker     *coverage.Tracker
	seen        map[string]struct{}
	features    []model.Feature
	inFlight    bool
	pending     *model.Rectangle
	sent        int
	zoom        float64
	lastOutcome string
	boxes       debugBoxes
}

func New(opts Options, fetcher overpass.Fetcher, logger *slog.Logger) (*Layer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("layer: fetcher is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "layer")
	l := &Layer{
		opts:    opts,
		fetcher: fetcher,
		logger:  logger,
		query:   opts.Query,
		tracker: coverage.NewTracker(logger),
		boxes:   debugBoxes{enabled: opts.Debug},
	}
	l.resetData()
	return l, nil
}

// Attach subscribes to host settle events and starts the loop. Unless
// NoInitialRequest is set, the current viewport is fetched right away.
func (l *Layer) Attach(ctx context.Context, host Host) error {
	if host == nil {
		return errors.New("layer: host is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sess != nil {
		return ErrAttached
	}

	loopCtx, stop := context.WithCancel(ctx)
	s := &session{
		ctx:    loopCtx,
		stop:   stop,
		events: make(chan any, eventBuffer),
		done:   make(chan struct{}),
		host:   host,
	}
	l.resetData()
	l.inFlight, l.pending = false, nil
	l.sess = s
	go l.loop(s)

	notify := func() { s.post(viewportMsg{bounds: host.Bounds(), zoom: host.Zoom()}) }
	s.unsub = host.OnSettle(notify)
	if !l.opts.NoInitialRequest {
		notify()
	}
	l.logger.Info("layer attached", "min_zoom", l.opts.MinZoom, "timeout", l.opts.Timeout.String())
	return nil
}

// Detach unsubscribes, stops the loop and drops all collected data. The
// context of a fetch still running is cancelled and its outcome discarded.
func (l *Layer) Detach() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.sess
	if s == nil {
		return ErrNotAttached
	}
	s.unsub()
	s.stop()
	<-s.done

	l.sess = nil
	l.gen++
	l.resetData()
	l.inFlight, l.pending = false, nil
	l.resetRenderer(context.Background())
	l.logger.Info("layer detached", "requests_sent", l.sent)
	return nil
}

// Attached reports whether the loop is running.
func (l *Layer) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess != nil && l.sess.ctx.Err() == nil
}

// SetQuery replaces the query template, drops coverage and features and
// re-fetches the current viewport. A response for the previous query that is
// still in flight is discarded once it arrives. Cached responses are purged
// and QueryObserver renderers are told about the new query.
func (l *Layer) SetQuery(ctx context.Context, query string) error {
	if !overpass.HasPlaceholder(query) {
		return ErrNoPlaceholder
	}
	l.mu.Lock()
	if l.sess == nil {
		l.query = query
		l.notifyQuery(ctx, query)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return l.call(ctx, func(s *session) {
		l.query = query
		l.gen++
		l.resetData()
		l.pending = nil
		l.resetRenderer(s.ctx)
		l.notifyQuery(s.ctx, query)
		if p, ok := l.fetcher.(purger); ok {
			p.Purge()
		}
		l.logger.Info("query replaced", "query", query)
		l.onViewport(s, s.host.Bounds(), s.host.Zoom())
	})
}

// Viewport injects a viewport change as if the host had settled there.
func (l *Layer) Viewport(ctx context.Context, bounds model.Rectangle, zoom float64) error {
	s := l.session()
	if s == nil {
		return ErrNotAttached
	}
	select {
	case s.events <- viewportMsg{bounds: bounds, zoom: zoom}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotAttached
	}
}

// Features returns a snapshot of every feature collected so far, in the
// order they were first seen.
func (l *Layer) Features(ctx context.Context) ([]model.Feature, error) {
	var out []model.Feature
	err := l.call(ctx, func(*session) {
		out = append([]model.Feature(nil), l.features...)
	})
	return out, err
}

func (l *Layer) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := l.call(ctx, func(*session) { st = l.stats() })
	return st, err
}

// DebugBoxes returns the request and response rectangles. Both are empty
// unless the layer was built with Debug.
func (l *Layer) DebugBoxes(ctx context.Context) (DebugBoxes, error) {
	var d DebugBoxes
	err := l.call(ctx, func(*session) { d = l.boxes.snapshot() })
	return d, err
}

func (l *Layer) session() *session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess
}

// call runs fn on the loop and waits for it.
func (l *Layer) call(ctx context.Context, fn func(s *session)) error {
	s := l.session()
	if s == nil {
		return ErrNotAttached
	}
	done := make(chan struct{})
	select {
	case s.events <- callMsg{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotAttached
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotAttached
	}
}

func (l *Layer) loop(s *session) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			switch m := ev.(type) {
			case viewportMsg:
				l.onViewport(s, m.bounds, m.zoom)
			case resultMsg:
				l.onResult(s, m)
			case callMsg:
				m.fn(s)
				close(m.done)
			default:
				l.logger.Warn("unknown loop message", "type", fmt.Sprintf("%T", ev))
			}
		}
	}
}

func (l *Layer) onViewport(s *session, bounds model.Rectangle, zoom float64) {
	l.zoom = zoom
	if zoom < l.opts.MinZoom {
		observability.IncViewport("below_min_zoom")
		l.logger.Debug("viewport below min zoom", "zoom", zoom, "min_zoom", l.opts.MinZoom)
		return
	}

	b := expandForCoverage(bounds)
	if l.inFlight {
		if l.pending != nil {
			observability.IncViewport("coalesced")
		} else {
			observability.IncViewport("pending")
		}
		l.pending = &b
		return
	}
	l.pending = nil
	l.send(s, b)
}

func (l *Layer) send(s *session, coverageBounds model.Rectangle) {
	if l.tracker.Covers(coverageBounds) {
		observability.IncViewport("covered")
		l.logger.Debug("viewport already covered", "bounds", coverageBounds.String())
		l.inFlight = false
		return
	}

	bounds := expandForRequest(coverageBounds)
	url := overpass.BuildURL(l.opts.Endpoint, overpass.BuildQuery(l.query, bounds))

	if !l.allow() {
		observability.IncRequest(overpass.Kind(overpass.ErrVetoed))
		l.logger.Debug("request vetoed", "bounds", bounds.String())
		l.lastOutcome = overpass.Kind(overpass.ErrVetoed)
		l.runHook("after_request", l.opts.AfterRequest)
		l.inFlight = false
		return
	}

	observability.IncViewport("fetch")
	l.inFlight = true
	l.boxes.request(bounds)
	l.dispatch(s, request{gen: l.gen, bounds: bounds, url: url})
}

// dispatch starts the fetch on its own goroutine; the outcome is posted back
// to the loop.
func (l *Layer) dispatch(s *session, req request) {
	l.sent++
	l.logger.Debug("overpass request", "bounds", req.bounds.String(), "attempt", req.attempt+1)

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, l.opts.Timeout)
		defer cancel()

		start := time.Now()
		body, err := l.fetcher.Fetch(ctx, req.url)
		if err != nil && !overpass.IsTimeout(err) &&
			errors.Is(ctx.Err(), context.DeadlineExceeded) && s.ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", overpass.ErrTimeout, err)
		}
		s.post(resultMsg{req: req, body: body, err: err, took: time.Since(start)})
	}()
}

func (l *Layer) onResult(s *session, m resultMsg) {
	req := m.req
	if req.gen != l.gen {
		l.logger.Debug("discarding response for replaced query", "bounds", req.bounds.String())
		l.complete(s)
		return
	}

	if overpass.IsTimeout(m.err) {
		l.lastOutcome = overpass.Kind(m.err)
		observability.IncRequest(l.lastOutcome)
		l.logger.Warn("overpass request timed out",
			"bounds", req.bounds.String(), "attempt", req.attempt+1, "took", m.took.String())
		l.runErrHook("on_timeout", l.opts.OnTimeout, m.err)

		if l.opts.RetryOnTimeout && req.attempt == 0 {
			req.attempt++
			l.dispatch(s, req)
			return
		}
		l.boxes.drop(req.bounds)
		l.complete(s)
		return
	}

	resp, err := l.decode(m)
	if err != nil {
		l.lastOutcome = overpass.Kind(err)
		observability.IncRequest(l.lastOutcome)
		l.logger.Warn("overpass request failed",
			"bounds", req.bounds.String(), "kind", l.lastOutcome, "err", err)
		l.boxes.drop(req.bounds)
		l.runErrHook("on_error", l.opts.OnError, err)
		l.complete(s)
		return
	}

	l.lastOutcome = overpass.KindOK
	observability.IncRequest(l.lastOutcome)
	l.collect(s.ctx, resp.Features())
	l.tracker.Record(req.bounds)
	observability.SetCoveredRegions(l.tracker.Len())
	l.boxes.promote()
	l.logger.Debug("overpass response applied",
		"bounds", req.bounds.String(), "elements", len(resp.Elements), "took", m.took.String())
	l.complete(s)
}

// decode parses the body and runs OnSuccess. A panicking OnSuccess counts
// as a failed attempt.
func (l *Layer) decode(m resultMsg) (*overpass.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp, err := overpass.Decode(m.body)
	if err != nil {
		return nil, err
	}
	if l.opts.OnSuccess != nil {
		if err := l.guard("on_success", func() { l.opts.OnSuccess(resp) }); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (l *Layer) complete(s *session) {
	l.runHook("after_request", l.opts.AfterRequest)
	if l.pending != nil {
		next := *l.pending
		l.pending = nil
		l.send(s, next)
		return
	}
	l.inFlight = false
}

// collect keeps features whose key was not seen before and renders them.
func (l *Layer) collect(ctx context.Context, features []model.Feature) {
	fresh := make([]model.Feature, 0, len(features))
	for _, f := range features {
		k := f.Key()
		if _, ok := l.seen[k]; ok {
			continue
		}
		l.seen[k] = struct{}{}
		fresh = append(fresh, f)
	}
	observability.AddFeatures(len(fresh), len(features)-len(fresh))
	l.features = append(l.features, fresh...)

	if len(fresh) == 0 || l.opts.Renderer == nil {
		return
	}
	_ = l.guard("render", func() { l.opts.Renderer.Render(ctx, fresh) })
}

func (l *Layer) resetData() {
	l.tracker.Reset()
	l.seen = map[string]struct{}{}
	l.features = nil
	l.boxes.reset()
	observability.SetCoveredRegions(0)
}

func (l *Layer) resetRenderer(ctx context.Context) {
	if r, ok := l.opts.Renderer.(Resetter); ok {
		_ = l.guard("render_reset", func() { r.Reset(ctx) })
	}
}

func (l *Layer) notifyQuery(ctx context.Context, query string) {
	if o, ok := l.opts.Renderer.(QueryObserver); ok {
		_ = l.guard("query_changed", func() { o.QueryChanged(ctx, query) })
	}
}

// purger is a fetcher holding responses that go stale when the query changes.
type purger interface {
	Purge()
}

func (l *Layer) stats() Stats {
	st := StateIdle
	if l.inFlight {
		st = StateInFlight
		if l.pending != nil {
			st = StateInFlightPending
		}
	}
	return Stats{
		State:          st,
		Query:          l.query,
		Zoom:           l.zoom,
		MinZoom:        l.opts.MinZoom,
		MinZoomMessage: MinZoomMessage(l.zoom, l.opts.MinZoom),
		CoveredRegions: l.tracker.Len(),
		Features:       len(l.features),
		RequestsSent:   l.sent,
		Pending:        l.pending != nil,
		LastOutcome:    l.lastOutcome,
	}
}

func (l *Layer) allow() bool {
	if l.opts.BeforeRequest == nil {
		return true
	}
	ok := false
	if err := l.guard("before_request", func() { ok = l.opts.BeforeRequest() }); err != nil {
		return false
	}
	return ok
}

func (l *Layer) runHook(name string, fn func()) {
	if fn != nil {
		_ = l.guard(name, fn)
	}
}

func (l *Layer) runErrHook(name string, fn func(error), err error) {
	if fn != nil {
		_ = l.guard(name, func() { fn(err) })
	}
}

// guard runs fn and converts a panic into an error.
func (l *Layer) guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("hook panicked", "hook", name, "panic", fmt.Sprint(r))
			err = fmt.Errorf("layer: %s hook panicked: %v", name, r)
		}
	}()
	fn()
	return nil
}
