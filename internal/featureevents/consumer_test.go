package featureevents

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
	"github.com/mohammed-shakir/overpass-layer/internal/featurestore"
)

type fakeSink struct {
	mu         sync.Mutex
	failN      int
	written    []model.Feature
	namespaces []string
}

func (s *fakeSink) PutNamespace(_ context.Context, ns string, fs []model.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("redis down")
	}
	for range fs {
		s.namespaces = append(s.namespaces, ns)
	}
	s.written = append(s.written, fs...)
	return nil
}

type session struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *session) Context() context.Context { return s.ctx }
func (s *session) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}

type claim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventMsg(t *testing.T, off int64, ev Event) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "poi-discovered", Offset: off, Key: []byte(ev.Key), Value: b}
}

var organic = Event{Key: "node/7", Namespace: "qorganic", Type: "node", ID: 7, Lat: 51.5105, Lon: -0.126, Tags: map[string]string{"organic": "only"}}

func claimOf(msgs ...*sarama.ConsumerMessage) *claim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &claim{msgs: ch}
}

func TestConsumeClaim_StoresAndMarksInOrder(t *testing.T) {
	sink := &fakeSink{}
	c := NewConsumer(ConsumerConfig{Topic: "poi-discovered", GroupID: "g"}, sink, nil)
	h := &groupHandler{process: c.ProcessOne}
	s := &session{ctx: t.Context()}

	way := Event{Key: "way/9", Type: "way", ID: 9, Lat: 51.51, Lon: -0.12}
	if err := h.ConsumeClaim(s, claimOf(eventMsg(t, 10, organic), eventMsg(t, 11, way))); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked=%v want [10 11]", s.marked)
	}
	if len(sink.written) != 2 || sink.written[0].Key() != "node/7" || sink.written[1].Key() != "way/9" {
		t.Fatalf("written=%+v", sink.written)
	}
	if sink.written[0].Tag("organic") != "only" {
		t.Fatalf("tags lost: %+v", sink.written[0])
	}
	if sink.namespaces[0] != "qorganic" || sink.namespaces[1] != "" {
		t.Fatalf("namespaces=%q", sink.namespaces)
	}
}

func TestConsumeClaim_SkipsPoisonMessages(t *testing.T) {
	sink := &fakeSink{}
	c := NewConsumer(ConsumerConfig{}, sink, nil)
	h := &groupHandler{process: c.ProcessOne}
	s := &session{ctx: t.Context()}

	garbage := &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	mismatched := eventMsg(t, 2, Event{Key: "node/1", Type: "way", ID: 2})
	offMap := eventMsg(t, 3, Event{Type: "node", ID: 3, Lat: 91})
	if err := h.ConsumeClaim(s, claimOf(garbage, mismatched, offMap, eventMsg(t, 4, organic))); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 4 {
		t.Fatalf("poison messages must still be marked, marked=%v", s.marked)
	}
	if len(sink.written) != 1 {
		t.Fatalf("written=%+v want only the valid event", sink.written)
	}
}

func TestConsumeClaim_SinkErrorLeavesMessageUnmarked(t *testing.T) {
	sink := &fakeSink{failN: 1}
	c := NewConsumer(ConsumerConfig{}, sink, nil)
	h := &groupHandler{process: c.ProcessOne}
	msg := eventMsg(t, 5, organic)

	s := &session{ctx: t.Context()}
	if err := h.ConsumeClaim(s, claimOf(msg)); err == nil {
		t.Fatalf("expected sink error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message was marked: %v", s.marked)
	}

	// redelivery after the session restarts
	if err := h.ConsumeClaim(s, claimOf(msg)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("marked=%v want [5]", s.marked)
	}
}

func TestConsumeClaim_StopsOnContextCancel(t *testing.T) {
	c := NewConsumer(ConsumerConfig{}, &fakeSink{}, nil)
	h := &groupHandler{process: c.ProcessOne}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	open := &claim{msgs: make(chan *sarama.ConsumerMessage)}
	if err := h.ConsumeClaim(&session{ctx: ctx}, open); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

type fakeGroup struct {
	sarama.ConsumerGroup
	calls int
	errs  []error
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) error {
	g.calls++
	if len(topics) != 1 || topics[0] != "poi-discovered" {
		return errors.New("unexpected topics")
	}
	if len(g.errs) == 0 {
		return sarama.ErrClosedConsumerGroup
	}
	err := g.errs[0]
	g.errs = g.errs[1:]
	return err
}

func TestConsume_RetriesUntilGroupCloses(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Topic: "poi-discovered", GroupID: "g"}, &fakeSink{}, nil)
	c.retryDelay = time.Millisecond
	g := &fakeGroup{errs: []error{nil, errors.New("rebalance"), nil}}
	if err := c.consume(t.Context(), g); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if g.calls != 4 {
		t.Fatalf("calls=%d want 4", g.calls)
	}
}

func TestRun_Validates(t *testing.T) {
	if err := NewConsumer(ConsumerConfig{Topic: "t", GroupID: "g"}, nil, nil).Run(t.Context()); err == nil {
		t.Fatalf("missing sink should fail")
	}
	if err := NewConsumer(ConsumerConfig{Topic: "t"}, &fakeSink{}, nil).Run(t.Context()); err == nil {
		t.Fatalf("missing brokers and group should fail")
	}
}

func TestProcessOne_IntoRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := t.Context()
	cli, err := featurestore.Dial(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	store, err := featurestore.New(cli, featurestore.Config{Namespace: "qorganic", Resolution: featurestore.DefaultResolution}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(); _ = cli.Close() })

	c := NewConsumer(ConsumerConfig{}, store, nil)
	if err := c.ProcessOne(ctx, eventMsg(t, 1, organic)); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	fs, _, err := store.InCell(ctx, model.LatLng{Lat: organic.Lat, Lng: organic.Lon})
	if err != nil || len(fs) != 1 || fs[0].Key() != "node/7" {
		t.Fatalf("InCell=%+v err=%v", fs, err)
	}
}

func TestProcessOne_KeepsResultSetsApart(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := t.Context()
	cli, err := featurestore.Dial(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	shops := featurestore.Namespace("node({{bbox}})[shop];out;")
	store, err := featurestore.New(cli, featurestore.Config{Namespace: shops, Resolution: featurestore.DefaultResolution}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(); _ = cli.Close() })

	bakery := Event{Key: "node/8", Namespace: shops, Type: "node", ID: 8, Lat: organic.Lat, Lon: organic.Lon}
	c := NewConsumer(ConsumerConfig{}, store, nil)
	for i, ev := range []Event{organic, bakery} {
		if err := c.ProcessOne(ctx, eventMsg(t, int64(i), ev)); err != nil {
			t.Fatalf("ProcessOne %s: %v", ev.Key, err)
		}
	}

	fs, _, err := store.InCell(ctx, model.LatLng{Lat: organic.Lat, Lng: organic.Lon})
	if err != nil || len(fs) != 1 || fs[0].Key() != "node/8" {
		t.Fatalf("shop namespace=%+v err=%v", fs, err)
	}
	store.SetNamespace(organic.Namespace)
	fs, _, err = store.InCell(ctx, model.LatLng{Lat: organic.Lat, Lng: organic.Lon})
	if err != nil || len(fs) != 1 || fs[0].Key() != "node/7" {
		t.Fatalf("organic namespace=%+v err=%v", fs, err)
	}
}
