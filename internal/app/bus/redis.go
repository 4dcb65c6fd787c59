package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fanchat/internal/pkg/logx"
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

// RedisStreamsConfig tunes the Redis Streams bus.
type RedisStreamsConfig struct {
	// MaxLen caps each stream (approximate trimming). Zero disables trimming.
	MaxLen int64

	// Block is how long one XREADGROUP call waits for new entries.
	Block time.Duration

	// ReclaimIdle is how long an entry may stay pending before another consumer claims it.
	ReclaimIdle time.Duration

	// MaxDeliveries caps redelivery of a failing entry; it is then acknowledged and dropped.
	MaxDeliveries int
}

// RedisStreams is a Bus backed by Redis Streams consumer groups. Each topic is a stream.
// Entries stay in the group's pending list until acknowledged; entries idle for longer than
// ReclaimIdle are claimed with XAUTOCLAIM and delivered again.
type RedisStreams struct {
	rdb    redis.UniversalClient
	cfg    RedisStreamsConfig
	logger zerolog.Logger
}

// NewRedisStreams wraps an existing Redis client.
func NewRedisStreams(rdb redis.UniversalClient, cfg RedisStreamsConfig) *RedisStreams {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 15 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}

	return &RedisStreams{
		rdb:    rdb,
		cfg:    cfg,
		logger: logx.Component("RedisStreams"),
	}
}

// Publish appends the payload to the topic's stream.
func (r *RedisStreams) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldKey:     key,
			fieldPayload: payload,
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}

	if err := r.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Subscribe reads the topics as consumer of group until ctx is done.
func (r *RedisStreams) Subscribe(ctx context.Context, group, consumer string, topics []string, handler Handler) error {
	for _, topic := range topics {
		err := r.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", group, topic, err)
		}
	}

	logger := r.logger.With().Str("group", group).Str("consumer", consumer).Logger()
	logger.Info().Strs("topics", topics).Msg("Consumer subscribed.")

	streams := make([]string, 0, 2*len(topics))
	streams = append(streams, topics...)
	for range topics {
		streams = append(streams, ">")
	}

	lastReclaim := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(lastReclaim) >= r.cfg.ReclaimIdle {
			r.reclaim(ctx, group, consumer, topics, handler, logger)
			lastReclaim = time.Now()
		}

		res, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  streams,
			Count:    16,
			Block:    r.cfg.Block,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("XREADGROUP failed. Backing off.")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, entry := range stream.Messages {
				r.deliver(ctx, group, stream.Stream, entry, 1, handler, logger)
			}
		}
	}
}

// deliver hands one entry to the handler and acknowledges it on success.
func (r *RedisStreams) deliver(ctx context.Context, group, stream string, entry redis.XMessage, delivery int, handler Handler, logger zerolog.Logger) {
	msg := Message{
		ID:       entry.ID,
		Topic:    stream,
		Key:      stringField(entry.Values, fieldKey),
		Payload:  []byte(stringField(entry.Values, fieldPayload)),
		Delivery: delivery,
	}

	if err := handler(ctx, msg); err != nil {
		logger.Warn().Err(err).
			Str("stream", stream).
			Str("entry_id", entry.ID).
			Int("delivery", delivery).
			Msg("Handler failed. Entry left pending for redelivery.")
		return
	}

	if err := r.rdb.XAck(ctx, stream, group, entry.ID).Err(); err != nil {
		logger.Error().Err(err).Str("stream", stream).Str("entry_id", entry.ID).Msg("XACK failed.")
	}
}

// reclaim takes over entries other consumers left pending for too long.
func (r *RedisStreams) reclaim(ctx context.Context, group, consumer string, topics []string, handler Handler, logger zerolog.Logger) {
	for _, topic := range topics {
		start := "0-0"
		for {
			entries, next, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   topic,
				Group:    group,
				Consumer: consumer,
				MinIdle:  r.cfg.ReclaimIdle,
				Start:    start,
				Count:    32,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Str("stream", topic).Msg("XAUTOCLAIM failed.")
				}
				break
			}

			for _, entry := range entries {
				delivery := r.deliveryCount(ctx, topic, group, entry.ID)
				if delivery > r.cfg.MaxDeliveries {
					logger.Error().
						Str("stream", topic).
						Str("entry_id", entry.ID).
						Int("delivery", delivery).
						Msg("Entry exhausted its deliveries. Acknowledging and dropping.")
					_ = r.rdb.XAck(ctx, topic, group, entry.ID).Err()
					continue
				}
				r.deliver(ctx, group, topic, entry, delivery, handler, logger)
			}

			if next == "0-0" || next == "" {
				break
			}
			start = next
		}
	}
}

// deliveryCount reports how many times the entry has been delivered, 0 if unknown.
func (r *RedisStreams) deliveryCount(ctx context.Context, stream, group, id string) int {
	pending, err := r.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// Close closes the underlying Redis client.
func (r *RedisStreams) Close() error {
	return r.rdb.Close()
}

func stringField(values map[string]any, field string) string {
	switch v := values[field].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
