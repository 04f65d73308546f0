// Package featurestore persists features the layer renders in Redis and
// indexes them by H3 cell, so other processes can look up POIs near a point
// without querying Overpass.
package featurestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultResolution = 9
	defaultQueueSize  = 256
	writeTimeout      = 2 * time.Second
)

type Config struct {
	Namespace  string
	TTL        time.Duration
	Resolution int
	QueueSize  int
}

// Store writes batches asynchronously; Render never blocks the caller.
type Store struct {
	cli    *Client
	ttl    time.Duration
	res    int
	logger *slog.Logger

	mu     sync.RWMutex
	ns     string
	closed bool

	queue chan batch
	done  chan struct{}
}

// batch keeps the namespace that was current when it was rendered.
type batch struct {
	ns       string
	features []model.Feature
}

var errQueueFull = errors.New("featurestore: queue full")

func New(cli *Client, cfg Config, logger *slog.Logger) (*Store, error) {
	if cli == nil {
		return nil, errors.New("featurestore: redis client is required")
	}
	if cfg.Resolution < 0 || cfg.Resolution > 15 {
		return nil, fmt.Errorf("featurestore: h3 resolution %d out of range [0,15]", cfg.Resolution)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		cli:    cli,
		ttl:    cfg.TTL,
		res:    cfg.Resolution,
		logger: logger.With("component", "featurestore"),
		ns:     cfg.Namespace,
		queue:  make(chan batch, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Store) run() {
	defer close(s.done)
	for b := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.put(ctx, b.ns, b.features); err != nil {
			s.logger.Warn("feature batch write failed", "namespace", b.ns, "features", len(b.features), "err", err)
		}
		cancel()
	}
}

// Render queues features for writing under the current namespace. A full
// queue drops the batch.
func (s *Store) Render(_ context.Context, features []model.Feature) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	b := batch{ns: s.ns, features: append([]model.Feature(nil), features...)}
	select {
	case s.queue <- b:
	default:
		observability.ObserveStoreOp("enqueue", errQueueFull, 0)
		s.logger.Warn("feature store queue full, dropping batch", "features", len(b.features))
	}
}

// SetNamespace switches the key prefix used by later renders, writes and
// reads. Batches already queued keep their namespace.
func (s *Store) SetNamespace(ns string) {
	s.mu.Lock()
	s.ns = ns
	s.mu.Unlock()
}

// QueryChanged moves the store to the namespace of query. The layer calls it
// on its loop before anything is rendered for the new query.
func (s *Store) QueryChanged(_ context.Context, query string) {
	ns := Namespace(query)
	s.SetNamespace(ns)
	s.logger.Info("feature store namespace switched", "namespace", ns)
}

func (s *Store) namespace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ns
}

// Put writes features and their cell memberships synchronously under the
// current namespace.
func (s *Store) Put(ctx context.Context, features []model.Feature) error {
	return s.put(ctx, s.namespace(), features)
}

// PutNamespace is Put under an explicit namespace; an empty ns means the
// current one.
func (s *Store) PutNamespace(ctx context.Context, ns string, features []model.Feature) error {
	if ns == "" {
		ns = s.namespace()
	}
	return s.put(ctx, ns, features)
}

func (s *Store) put(ctx context.Context, ns string, features []model.Feature) error {
	if len(features) == 0 {
		return nil
	}
	kv := make(map[string][]byte, len(features))
	idx := make([]Index, 0, len(features))
	for _, f := range features {
		body, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("featurestore encode %s: %w", f.Key(), err)
		}
		kv[featureKey(ns, f.Key())] = body

		cell, err := s.cell(f.Position())
		if err != nil {
			return fmt.Errorf("featurestore cell for %s: %w", f.Key(), err)
		}
		idx = append(idx, Index{Key: cellKey(ns, s.res, cell), Member: f.Key()})
	}
	if err := s.cli.WriteBatch(ctx, kv, idx, s.ttl); err != nil {
		return fmt.Errorf("featurestore write %d features: %w", len(features), err)
	}
	return nil
}

// Get returns stored features by key ("type/id"); missing keys are omitted.
func (s *Store) Get(ctx context.Context, keys []string) (map[string]model.Feature, error) {
	ns := s.namespace()
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = featureKey(ns, k)
	}
	raw, err := s.cli.MGet(ctx, rkeys)
	if err != nil {
		return nil, fmt.Errorf("featurestore get: %w", err)
	}
	out := make(map[string]model.Feature, len(raw))
	for i, k := range keys {
		b, ok := raw[rkeys[i]]
		if !ok {
			continue
		}
		var f model.Feature
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("featurestore decode %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// InCell returns the stored features in the H3 cell containing p, sorted by
// key, together with the cell id.
func (s *Store) InCell(ctx context.Context, p model.LatLng) ([]model.Feature, string, error) {
	cell, err := s.cell(p)
	if err != nil {
		return nil, "", err
	}
	members, err := s.cli.SMembers(ctx, cellKey(s.namespace(), s.res, cell))
	if err != nil {
		return nil, cell, fmt.Errorf("featurestore cell %s: %w", cell, err)
	}
	sort.Strings(members)
	found, err := s.Get(ctx, members)
	if err != nil {
		return nil, cell, err
	}
	out := make([]model.Feature, 0, len(found))
	for _, k := range members {
		if f, ok := found[k]; ok {
			out = append(out, f)
		}
	}
	return out, cell, nil
}

func (s *Store) cell(p model.LatLng) (string, error) {
	c, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), s.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx) }

// Close drains queued batches and stops the writer. The Redis client is
// owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}
