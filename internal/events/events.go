// Package events carries domain events between the request path and
// background consumers. Delivery is at-most-once for the in-memory bus and
// at-least-once for Kafka.
package events

import (
	"context"
	"errors"
)

const TopicTransactionCreated = "transaction.created"

var (
	ErrBufferFull = errors.New("events: buffer full")
	ErrClosed     = errors.New("events: bus closed")
)

// Message is one delivered event. Value holds the JSON payload.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error { return f(ctx, msg) }

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) error
	Close() error
}

// Subscriber delivers messages of topics to h until ctx is cancelled.
// Handler errors are logged; the message is not redelivered.
type Subscriber interface {
	Consume(ctx context.Context, topics []string, h Handler) error
	Close() error
}
