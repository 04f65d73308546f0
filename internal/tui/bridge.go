package tui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

// FeaturesMsg carries a batch of features seen for the first time.
type FeaturesMsg struct {
	Features []model.Feature
}

// ResetMsg tells the model to drop every drawn feature.
type ResetMsg struct{}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge is a layer renderer that forwards batches to a bubbletea program.
// Render never blocks; batches are delivered in the order they were rendered
// and dropped when the queue is full.
type Bridge struct {
	logger *slog.Logger
	ch     chan tea.Msg

	mu     sync.RWMutex
	closed bool
}

func NewBridge(queue int, logger *slog.Logger) *Bridge {
	if queue <= 0 {
		queue = 256
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{logger: logger, ch: make(chan tea.Msg, queue)}
}

func (b *Bridge) Render(_ context.Context, features []model.Feature) {
	b.push(FeaturesMsg{Features: append([]model.Feature(nil), features...)})
}

func (b *Bridge) Reset(context.Context) { b.push(ResetMsg{}) }

func (b *Bridge) push(msg tea.Msg) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- msg:
	default:
		b.logger.Warn("tui queue full, dropping message", "type", fmt.Sprintf("%T", msg))
	}
}

// Forward delivers queued messages to s until Close is called.
func (b *Bridge) Forward(s Sender) {
	for msg := range b.ch {
		s.Send(msg)
	}
}

func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
