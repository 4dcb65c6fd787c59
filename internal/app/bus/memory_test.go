package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSubscriber(t *testing.T, b Subscriber, group string, topics []string, handler Handler) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Subscribe(ctx, group, "c1", topics, handler)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestMemoryBus_DeliversBacklogToFirstGroup(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{RedeliveryDelay: 10 * time.Millisecond})

	require.NoError(t, b.Publish(context.Background(), "chat.authz.watch", "cid-1", []byte("hello")))

	got := make(chan Message, 1)
	runSubscriber(t, b, "engine", []string{"chat.authz.watch"}, func(_ context.Context, msg Message) error {
		got <- msg
		return nil
	})

	select {
	case msg := <-got:
		assert.Equal(t, "cid-1", msg.Key)
		assert.Equal(t, []byte("hello"), msg.Payload)
		assert.Equal(t, "chat.authz.watch", msg.Topic)
		assert.Equal(t, 1, msg.Delivery)
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestMemoryBus_RedeliversOnHandlerError(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{RedeliveryDelay: 5 * time.Millisecond, MaxDeliveries: 3})

	var mu sync.Mutex
	var deliveries []int
	runSubscriber(t, b, "engine", []string{"t"}, func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		deliveries = append(deliveries, msg.Delivery)
		if msg.Delivery < 2 {
			return errors.New("store unreachable")
		}
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", "k", []byte("x")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deliveries) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1, 2}, deliveries)
	mu.Unlock()
}

func TestMemoryBus_StopsAfterMaxDeliveries(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{RedeliveryDelay: 2 * time.Millisecond, MaxDeliveries: 3})

	var calls atomic.Int32
	runSubscriber(t, b, "engine", []string{"t"}, func(context.Context, Message) error {
		calls.Add(1)
		return errors.New("always failing")
	})

	require.NoError(t, b.Publish(context.Background(), "t", "k", []byte("x")))

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemoryBus_GroupMembersShareMessages(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})

	var total atomic.Int32
	handler := func(context.Context, Message) error {
		total.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, name := range []string{"c1", "c2", "c3"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = b.Subscribe(ctx, "engine", name, []string{"t"}, handler)
		}(name)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish(context.Background(), "t", "", []byte("x")))
	}

	assert.Eventually(t, func() bool { return total.Load() == 50 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(50), total.Load())
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "t", "k", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "chat-authz-engine_chat_authz_watch", durableName("chat-authz-engine", "chat.authz.watch"))
}

func TestMemoryBus_PublishIsAllOrNothingAcrossGroups(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})

	roomy := make(chan Message, 2)
	full := make(chan Message, 1)
	full <- Message{ID: "earlier"}
	b.topics["t"] = &topicState{groups: map[string]chan Message{
		"engine":  roomy,
		"auditor": full,
	}}

	err := b.Publish(context.Background(), "t", "cid-1", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auditor")
	assert.Len(t, roomy, 0, "no group may receive a message that another group rejected")
	assert.Len(t, full, 1)

	<-full
	require.NoError(t, b.Publish(context.Background(), "t", "cid-1", []byte("x")))
	assert.Len(t, roomy, 1)
	assert.Len(t, full, 1)
}
