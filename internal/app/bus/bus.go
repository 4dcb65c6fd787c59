/*
Package bus defines the publish/subscribe transport the two sides of the chat authorization
bridge talk over, plus its implementations: Redis Streams, NATS JetStream and an in-process
bus for single-process development and tests.

Delivery is at-least-once. A message is acknowledged only when the handler returns nil; a
handler error leaves it for redelivery, so handlers must be idempotent.
*/
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by Publish after the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// Message is one delivery of a published payload.
type Message struct {
	// ID is the transport-assigned message id.
	ID string

	// Topic the message was published to.
	Topic string

	// Key is the publisher-supplied key (the correlation id for authorization requests).
	Key string

	// Payload is the opaque message body.
	Payload []byte

	// Delivery is the 1-based delivery attempt, when the transport reports it.
	Delivery int
}

// Handler processes a delivered message. Returning an error requests redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher publishes payloads onto named topics.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber consumes topics as a member of a consumer group. Members of the same group
// share the load: each message goes to one member (modulo redelivery).
type Subscriber interface {
	// Subscribe blocks until ctx is done, delivering messages to handler.
	Subscribe(ctx context.Context, group, consumer string, topics []string, handler Handler) error
}

// Bus is a Publisher and Subscriber that owns a transport connection.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
