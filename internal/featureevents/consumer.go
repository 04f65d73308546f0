package featureevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
)

// Sink receives the features decoded from discovery events, under the
// namespace the event was published for. An empty namespace means the sink's
// own.
type Sink interface {
	PutNamespace(ctx context.Context, ns string, features []model.Feature) error
}

type ConsumerConfig struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	return c
}

// Consumer reads discovery events from a consumer group and writes the
// features they carry into a Sink.
type Consumer struct {
	cfg        ConsumerConfig
	sink       Sink
	logger     *slog.Logger
	retryDelay time.Duration
}

func NewConsumer(cfg ConsumerConfig, sink Sink, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{
		cfg:        cfg.withDefaults(),
		sink:       sink,
		logger:     logger.With("component", "featureevents_consumer", "topic", cfg.Topic, "group", cfg.GroupID),
		retryDelay: 2 * time.Second,
	}
}

// Run joins the group and consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if c.sink == nil {
		return errors.New("featureevents: consumer has no sink")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" || c.cfg.GroupID == "" {
		return errors.New("featureevents: brokers, topic and group are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("featureevents: create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	return c.consume(ctx, group)
}

func (c *Consumer) consume(ctx context.Context, group sarama.ConsumerGroup) error {
	h := &groupHandler{process: c.ProcessOne}
	c.logger.Info("consumer starting", "brokers", c.cfg.Brokers)
	for ctx.Err() == nil {
		err := group.Consume(ctx, []string{c.cfg.Topic}, h)
		switch {
		case err == nil:
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		default:
			c.logger.Error("consume", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
		}
	}
	c.logger.Info("consumer stopped")
	return nil
}

// ProcessOne stores the feature carried by msg. Undecodable or invalid
// events are logged and skipped so they cannot stall the partition; a sink
// failure is returned and the message stays unmarked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncConsumed("decode_error")
		c.logger.Warn("decode event", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	f, err := ev.Feature()
	if err != nil {
		observability.IncConsumed("invalid")
		c.logger.Warn("invalid event", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := c.sink.PutNamespace(ctx, ev.Namespace, []model.Feature{f}); err != nil {
		observability.IncConsumed("store_error")
		return fmt.Errorf("store %s: %w", f.Key(), err)
	}
	observability.IncConsumed("stored")
	return nil
}

// Feature converts ev back into the feature it was published for.
func (ev Event) Feature() (model.Feature, error) {
	f := model.Feature{ID: ev.ID, Type: ev.Type, Lat: ev.Lat, Lon: ev.Lon, Tags: ev.Tags}
	switch {
	case ev.Type == "" || ev.ID == 0:
		return model.Feature{}, fmt.Errorf("event %q has no element id", ev.Key)
	case ev.Key != "" && ev.Key != f.Key():
		return model.Feature{}, fmt.Errorf("event key %q does not match %s", ev.Key, f.Key())
	case ev.Lat < -90 || ev.Lat > 90 || ev.Lon < -180 || ev.Lon > 180:
		return model.Feature{}, fmt.Errorf("event %s: position %g,%g out of range", f.Key(), ev.Lat, ev.Lon)
	}
	return f, nil
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks each message only after it was processed.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
