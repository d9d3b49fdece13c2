package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Memory is a buffered in-process bus. Publish never blocks: a full buffer
// drops the event with ErrBufferFull.
type Memory struct {
	mu     sync.RWMutex
	ch     chan *Message
	closed bool
	logger *slog.Logger
}

func NewMemory(buffer int, logger *slog.Logger) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{ch: make(chan *Message, buffer), logger: logger}
}

func (m *Memory) PublishJSON(ctx context.Context, topic, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- &Message{Topic: topic, Key: key, Value: payload}:
		return nil
	default:
		return ErrBufferFull
	}
}

func (m *Memory) Consume(ctx context.Context, topics []string, h Handler) error {
	if h == nil {
		return fmt.Errorf("message handler required")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-m.ch:
			if !ok {
				return nil
			}
			if len(topics) > 0 && !slices.Contains(topics, msg.Topic) {
				continue
			}
			if err := h.HandleMessage(ctx, msg); err != nil {
				m.logger.Error("event handler error", "topic", msg.Topic, "key", msg.Key, "error", err)
			}
		}
	}
}

// Close stops delivery. Buffered events are still handed to a running
// consumer before Consume returns.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}
