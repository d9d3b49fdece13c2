package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryDeliversByTopic(t *testing.T) {
	bus := NewMemory(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Consume(ctx, []string{TopicTransactionCreated}, HandlerFunc(func(_ context.Context, msg *Message) error {
			var payload map[string]any
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				return err
			}
			mu.Lock()
			got = append(got, msg.Key)
			mu.Unlock()
			return nil
		}))
	}()

	require.NoError(t, bus.PublishJSON(ctx, "other.topic", "x", map[string]int{"a": 1}))
	require.NoError(t, bus.PublishJSON(ctx, TopicTransactionCreated, "7", map[string]int{"categoryId": 7}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"7"}, got)
	mu.Unlock()

	require.NoError(t, bus.Close())
	<-done
}

func TestMemoryPublishNeverBlocks(t *testing.T) {
	bus := NewMemory(1, nil)
	ctx := context.Background()

	require.NoError(t, bus.PublishJSON(ctx, TopicTransactionCreated, "1", 1))
	require.ErrorIs(t, bus.PublishJSON(ctx, TopicTransactionCreated, "2", 2), ErrBufferFull)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.PublishJSON(ctx, TopicTransactionCreated, "3", 3), ErrClosed)
}

func TestMemoryHandlerErrorDoesNotStopConsumer(t *testing.T) {
	bus := NewMemory(4, nil)
	ctx := context.Background()
	require.NoError(t, bus.PublishJSON(ctx, TopicTransactionCreated, "1", 1))
	require.NoError(t, bus.PublishJSON(ctx, TopicTransactionCreated, "2", 2))
	require.NoError(t, bus.Close())

	calls := 0
	err := bus.Consume(ctx, nil, HandlerFunc(func(context.Context, *Message) error {
		calls++
		return errors.New("boom")
	}))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
