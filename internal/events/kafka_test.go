package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestKafkaProducerPublishesJSON(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var payload map[string]any
		if err := json.Unmarshal(val, &payload); err != nil {
			return err
		}
		if payload["type"] != "expense" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerFrom(sp, nil)
	ctx := context.Background()
	require.NoError(t, p.PublishJSON(ctx, TopicTransactionCreated, "3", map[string]any{"categoryId": 3, "type": "expense"}))
	require.ErrorIs(t, p.PublishJSON(ctx, TopicTransactionCreated, "3", map[string]any{"type": "expense"}), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaProducerHonoursCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewKafkaProducerFrom(sp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.PublishJSON(ctx, TopicTransactionCreated, "1", 1), context.Canceled)
	require.NoError(t, p.Close())
}

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Claims() map[string][]int32 {
	return map[string][]int32{}
}
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return TopicTransactionCreated }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func TestConsumerGroupHandlerMarksFailedMessages(t *testing.T) {
	var keys []string
	handler := &consumerGroupHandler{
		handler: HandlerFunc(func(_ context.Context, msg *Message) error {
			keys = append(keys, msg.Key)
			if string(msg.Value) == "bad" {
				return errors.New("decode failed")
			}
			return nil
		}),
		logger: slog.Default(),
	}

	msgCh := make(chan *sarama.ConsumerMessage, 2)
	msgCh <- &sarama.ConsumerMessage{Topic: TopicTransactionCreated, Key: []byte("1"), Offset: 1, Value: []byte("bad")}
	msgCh <- &sarama.ConsumerMessage{Topic: TopicTransactionCreated, Key: []byte("2"), Offset: 2, Value: []byte(`{"categoryId":2}`)}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	require.NoError(t, handler.ConsumeClaim(session, &stubClaim{msgCh: msgCh}))
	require.Equal(t, 2, session.marked)
	require.Equal(t, []string{"1", "2"}, keys)
}

type flakyGroup struct {
	sarama.ConsumerGroup
	calls  int
	cancel context.CancelFunc
}

func (g *flakyGroup) Consume(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.calls++
	if g.calls == 1 {
		go func() {
			time.Sleep(50 * time.Millisecond)
			g.cancel()
		}()
		return sarama.ErrOutOfBrokers
	}
	return nil
}

func TestKafkaConsumerRetryWaitIsInterruptible(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group := &flakyGroup{cancel: cancel}
	c := &KafkaConsumer{group: group, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	start := time.Now()
	err := c.Consume(ctx, []string{TopicTransactionCreated}, HandlerFunc(func(context.Context, *Message) error { return nil }))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, group.calls, "cancelled during the retry wait, before a second attempt")
	require.Less(t, time.Since(start), consumeRetryDelay)
}
