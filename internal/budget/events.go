package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/expensetracker/internal/events"
	"github.com/example/expensetracker/internal/store"
)

// TransactionEvent is the payload of events.TopicTransactionCreated.
type TransactionEvent struct {
	TransactionID int64       `json:"transactionId"`
	UserID        int64       `json:"userId"`
	CategoryID    int64       `json:"categoryId"`
	Amount        json.Number `json:"amount"`
	Type          string      `json:"type"`
	Date          time.Time   `json:"date"`
}

const defaultPublishTimeout = 5 * time.Second

// Producer announces created transactions without blocking the caller.
type Producer struct {
	pub      events.Publisher
	logger   *slog.Logger
	failures *prometheus.CounterVec
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewProducer builds a producer. failures may be nil.
func NewProducer(pub events.Publisher, logger *slog.Logger, failures *prometheus.CounterVec) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{pub: pub, logger: logger, failures: failures, timeout: defaultPublishTimeout}
}

// TransactionCreated publishes in the background. A failed publish is
// logged and counted; the transaction itself stays committed.
func (p *Producer) TransactionCreated(ctx context.Context, tx *store.Transaction) {
	ev := TransactionEvent{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		CategoryID:    tx.CategoryID,
		Amount:        json.Number(tx.Amount.String()),
		Type:          tx.Type,
		Date:          tx.Date,
	}
	key := strconv.FormatInt(tx.CategoryID, 10)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.pub.PublishJSON(pubCtx, events.TopicTransactionCreated, key, ev); err != nil {
			p.logger.Error("publish transaction event failed",
				"transaction_id", ev.TransactionID, "category_id", ev.CategoryID, "error", err)
			if p.failures != nil {
				p.failures.WithLabelValues(events.TopicTransactionCreated, "publish").Inc()
			}
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *Producer) Wait() { p.wg.Wait() }

// Consumer runs budget checks for expense events.
type Consumer struct {
	service  *Service
	logger   *slog.Logger
	failures *prometheus.CounterVec
}

func NewConsumer(service *Service, logger *slog.Logger, failures *prometheus.CounterVec) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{service: service, logger: logger, failures: failures}
}

func (c *Consumer) HandleMessage(ctx context.Context, msg *events.Message) error {
	err := c.handle(ctx, msg)
	if err != nil && c.failures != nil {
		c.failures.WithLabelValues(msg.Topic, "handle").Inc()
	}
	return err
}

func (c *Consumer) handle(ctx context.Context, msg *events.Message) error {
	var ev TransactionEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Topic, err)
	}
	if ev.Type != store.TransactionExpense {
		return nil
	}
	if ev.CategoryID == 0 {
		return fmt.Errorf("decode %s payload: missing categoryId", msg.Topic)
	}
	_, err := c.service.Check(ctx, ev.CategoryID)
	return err
}
