// Package featureevents publishes a Kafka message for every feature the
// layer discovers, and consumes those messages back into a feature store.
package featureevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
	"github.com/mohammed-shakir/overpass-layer/internal/featurestore"
)

const defaultQueueSize = 1024

// Event is one discovered feature. Namespace identifies the query whose
// result set the feature belongs to, as computed by featurestore.Namespace.
type Event struct {
	Key       string            `json:"key"`
	Namespace string            `json:"namespace,omitempty"`
	Type      string            `json:"type"`
	ID        int64             `json:"id"`
	Lat       float64           `json:"lat"`
	Lon       float64           `json:"lon"`
	Tags      map[string]string `json:"tags,omitempty"`
	TS        time.Time         `json:"ts"`
}

type Publisher struct {
	topic  string
	prod   sarama.AsyncProducer
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	ns      string
	events  chan Event
	stopped chan struct{}
	errDone chan struct{}
}

// Dial connects an async producer to brokers.
func Dial(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("featureevents: create async producer: %w", err)
	}
	return NewPublisher(prod, topic, queueSize, logger), nil
}

// NewPublisher takes ownership of prod.
func NewPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:   topic,
		prod:    prod,
		logger:  logger.With("component", "featureevents", "topic", topic),
		now:     time.Now,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncPublished("encode_error")
				p.logger.Warn("marshal event", "key", ev.Key, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Key),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncPublished("sent")
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncPublished("producer_error")
				p.logger.Warn("producer error", "err", err)
			}
		}
	}()

	return p
}

// Render queues one event per feature. When the queue is full the rest of
// the batch is dropped; the layer loop is never blocked.
func (p *Publisher) Render(_ context.Context, features []model.Feature) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	ts := p.now().UTC()
	for i, f := range features {
		ev := Event{Key: f.Key(), Namespace: p.ns, Type: f.Type, ID: f.ID, Lat: f.Lat, Lon: f.Lon, Tags: f.Tags, TS: ts}
		select {
		case p.events <- ev:
		default:
			observability.IncPublished("dropped")
			p.logger.Warn("event queue full, dropping", "dropped", len(features)-i)
			return
		}
	}
}

// SetNamespace stamps later events with ns.
func (p *Publisher) SetNamespace(ns string) {
	p.mu.Lock()
	p.ns = ns
	p.mu.Unlock()
}

// QueryChanged stamps later events with the namespace of query.
func (p *Publisher) QueryChanged(_ context.Context, query string) {
	p.SetNamespace(featurestore.Namespace(query))
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("featureevents: close producer: %w", err)
	}
	return nil
}
