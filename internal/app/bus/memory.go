package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fanchat/internal/pkg/logx"
)

const memoryQueueSize = 4096

// MemoryConfig tunes redelivery of the in-process bus.
type MemoryConfig struct {
	RedeliveryDelay time.Duration
	MaxDeliveries   int
}

// topicState holds one queue per consumer group plus the messages published
// before any group subscribed.
type topicState struct {
	groups  map[string]chan Message
	backlog []Message
}

// MemoryBus is an in-process Bus. Messages are held in buffered channels, one per
// (topic, group); a failed delivery is requeued after RedeliveryDelay until MaxDeliveries.
type MemoryBus struct {
	cfg MemoryConfig

	// mu protects topics and closed.
	mu     sync.Mutex
	topics map[string]*topicState
	closed bool

	logger zerolog.Logger
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}

	return &MemoryBus{
		cfg:    cfg,
		topics: make(map[string]*topicState),
		logger: logx.Component("MemoryBus"),
	}
}

func (b *MemoryBus) topic(name string) *topicState {
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{groups: make(map[string]chan Message)}
		b.topics[name] = t
	}
	return t
}

// Publish enqueues the payload for every group subscribed to topic.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{
		ID:       uuid.New().String(),
		Topic:    topic,
		Key:      key,
		Payload:  append([]byte(nil), payload...),
		Delivery: 1,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	t := b.topic(topic)
	if len(t.groups) == 0 {
		if len(t.backlog) >= memoryQueueSize {
			return fmt.Errorf("bus: topic %s backlog full", topic)
		}
		t.backlog = append(t.backlog, msg)
		return nil
	}

	// All or nothing: a full queue for one group must not leave the message with the others.
	// Only sends under mu fill the queues, so the check holds until the sends below.
	for group, queue := range t.groups {
		if len(queue) >= cap(queue) {
			return fmt.Errorf("bus: queue for topic %s group %s is full", topic, group)
		}
	}
	for _, queue := range t.groups {
		queue <- msg
	}
	return nil
}

// Subscribe runs one delivery loop per topic until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, group, consumer string, topics []string, handler Handler) error {
	queues := make([]chan Message, 0, len(topics))

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	for _, name := range topics {
		t := b.topic(name)
		queue, ok := t.groups[group]
		if !ok {
			queue = make(chan Message, memoryQueueSize)
			t.groups[group] = queue
			for _, msg := range t.backlog {
				queue <- msg
			}
			t.backlog = nil
		}
		queues = append(queues, queue)
	}
	b.mu.Unlock()

	logger := b.logger.With().Str("group", group).Str("consumer", consumer).Logger()
	logger.Debug().Strs("topics", topics).Msg("Consumer subscribed.")

	var wg sync.WaitGroup
	for _, queue := range queues {
		wg.Add(1)
		go func(queue chan Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-queue:
					b.deliver(ctx, queue, msg, handler, logger)
				}
			}
		}(queue)
	}

	wg.Wait()
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, queue chan Message, msg Message, handler Handler, logger zerolog.Logger) {
	err := handler(ctx, msg)
	if err == nil {
		return
	}

	if msg.Delivery >= b.cfg.MaxDeliveries {
		logger.Error().Err(err).
			Str("message_id", msg.ID).
			Str("key", msg.Key).
			Int("delivery", msg.Delivery).
			Msg("Message exhausted its deliveries. Dropping.")
		return
	}

	logger.Warn().Err(err).
		Str("message_id", msg.ID).
		Str("key", msg.Key).
		Int("delivery", msg.Delivery).
		Msg("Handler failed. Scheduling redelivery.")

	msg.Delivery++
	time.AfterFunc(b.cfg.RedeliveryDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		select {
		case queue <- msg:
		default:
			logger.Error().Str("message_id", msg.ID).Msg("Queue full on redelivery. Dropping.")
		}
	})
}

// Close rejects further publishes. Running subscriptions end with their contexts.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
