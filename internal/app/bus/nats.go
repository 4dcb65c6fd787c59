package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"fanchat/internal/pkg/logx"
)

// JetStreamConfig tunes the NATS JetStream bus.
type JetStreamConfig struct {
	// Stream is the JetStream stream that captures all topics.
	Stream string

	// Topics are the subjects bound to Stream.
	Topics []string

	// AckWait is how long the server waits for an ack before redelivering.
	AckWait time.Duration

	// RedeliveryDelay is the delay requested when a handler fails.
	RedeliveryDelay time.Duration

	// MaxDeliveries caps redelivery of a failing message.
	MaxDeliveries int

	// DuplicateWindow is how long the server remembers published message ids.
	DuplicateWindow time.Duration
}

// JetStream is a Bus backed by NATS JetStream durable queue consumers.
// Publishing with a key sets Nats-Msg-Id, so a retried publish of the same
// request inside DuplicateWindow is stored once.
type JetStream struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    JetStreamConfig
	logger zerolog.Logger
}

// NewJetStream binds to (or creates) the configured stream.
func NewJetStream(nc *nats.Conn, cfg JetStreamConfig) (*JetStream, error) {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 2 * time.Minute
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.StreamInfo(cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   cfg.Topics,
			Retention:  nats.LimitsPolicy,
			MaxAge:     time.Hour,
			Storage:    nats.FileStorage,
			Duplicates: cfg.DuplicateWindow,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind stream %s: %w", cfg.Stream, err)
	}

	return &JetStream{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: logx.Component("JetStream"),
	}, nil
}

// Publish stores the payload on the stream, using key as the de-duplication id.
func (j *JetStream) Publish(ctx context.Context, topic, key string, payload []byte) error {
	opts := []nats.PubOpt{nats.Context(ctx)}
	if key != "" {
		opts = append(opts, nats.MsgId(key))
	}

	if _, err := j.js.Publish(topic, payload, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins the group's durable queue consumer on every topic until ctx is done.
func (j *JetStream) Subscribe(ctx context.Context, group, consumer string, topics []string, handler Handler) error {
	logger := j.logger.With().Str("group", group).Str("consumer", consumer).Logger()

	subs := make([]*nats.Subscription, 0, len(topics))
	defer func() {
		for _, sub := range subs {
			if err := sub.Drain(); err != nil {
				logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Failed to drain subscription.")
			}
		}
	}()

	for _, topic := range topics {
		durable := durableName(group, topic)

		sub, err := j.js.QueueSubscribe(topic, durable, func(m *nats.Msg) {
			j.deliver(ctx, m, handler, logger)
		},
			nats.Durable(durable),
			nats.ManualAck(),
			nats.AckWait(j.cfg.AckWait),
			nats.MaxDeliver(j.cfg.MaxDeliveries),
			nats.DeliverAll(),
		)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	logger.Info().Strs("topics", topics).Msg("Consumer subscribed.")

	<-ctx.Done()
	return nil
}

func (j *JetStream) deliver(ctx context.Context, m *nats.Msg, handler Handler, logger zerolog.Logger) {
	msg := Message{
		Topic:   m.Subject,
		Key:     m.Header.Get(nats.MsgIdHdr),
		Payload: m.Data,
	}
	if meta, err := m.Metadata(); err == nil {
		msg.ID = fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
		msg.Delivery = int(meta.NumDelivered)
	}

	if err := handler(ctx, msg); err != nil {
		logger.Warn().Err(err).
			Str("subject", m.Subject).
			Str("message_id", msg.ID).
			Int("delivery", msg.Delivery).
			Msg("Handler failed. Requesting redelivery.")
		if nakErr := m.NakWithDelay(j.cfg.RedeliveryDelay); nakErr != nil {
			logger.Error().Err(nakErr).Str("message_id", msg.ID).Msg("NAK failed.")
		}
		return
	}

	if err := m.Ack(); err != nil {
		logger.Error().Err(err).Str("message_id", msg.ID).Msg("ACK failed.")
	}
}

// Close drains the connection.
func (j *JetStream) Close() error {
	return j.nc.Drain()
}

// durableName derives a consumer name from group and topic. Durable names may not contain dots.
func durableName(group, topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(group + "_" + topic)
}
