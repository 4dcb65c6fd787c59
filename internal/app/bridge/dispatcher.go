package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"fanchat/internal/app/bus"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/metrics"
)

const tracerName = "fanchat/bridge"

// Topics maps each chat kind to the bus topic its requests are published on.
type Topics struct {
	Watch string
	Match string
}

// For returns the topic for kind, or ErrInvalidChatKind.
func (t Topics) For(kind ChatKind) (string, error) {
	switch kind {
	case ChatKindWatch:
		if t.Watch != "" {
			return t.Watch, nil
		}
	case ChatKindMatch:
		if t.Match != "" {
			return t.Match, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChatKind, kind)
}

// All lists the configured topics, for subscribers.
func (t Topics) All() []string {
	return []string{t.Watch, t.Match}
}

// Dispatcher publishes authorization requests. It never waits for results.
type Dispatcher struct {
	pub    bus.Publisher
	topics Topics
	tracer trace.Tracer
	now    func() time.Time
}

func NewDispatcher(pub bus.Publisher, topics Topics) *Dispatcher {
	return &Dispatcher{
		pub:    pub,
		topics: topics,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// Dispatch publishes req on the topic for its chat kind and returns the correlation id the
// result will be stored under. A missing correlation id is generated; the caller's request
// is not modified.
//
// An unknown chat kind fails with ErrInvalidChatKind before anything is published.
// A publish failure is returned wrapped in ErrInfrastructure and is not retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, req *AuthorizationRequest) (string, error) {
	topic, err := d.topics.For(req.ChatKind)
	if err != nil {
		return "", err
	}

	msg := *req
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	msg.RequestedAt = d.now().UTC()

	ctx, span := d.tracer.Start(ctx, "bridge.dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("chat.correlation_id", msg.CorrelationID),
			attribute.String("chat.kind", string(msg.ChatKind)),
			attribute.String("chat.action", string(msg.Action)),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		msg.TraceContext = carrier
	}

	payload, err := EncodeRequest(&msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return "", fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	if err := d.pub.Publish(ctx, topic, msg.CorrelationID, payload); err != nil {
		metrics.RecordDispatch(string(msg.ChatKind), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish")
		logx.Error(err, "Failed to publish authorization request",
			"correlation_id", msg.CorrelationID, "topic", topic)
		return "", fmt.Errorf("%w: publish to %s: %w", ErrInfrastructure, topic, err)
	}

	metrics.RecordDispatch(string(msg.ChatKind), true)
	logx.Debug("Authorization request dispatched",
		"correlation_id", msg.CorrelationID, "topic", topic, "action", string(msg.Action))

	return msg.CorrelationID, nil
}
