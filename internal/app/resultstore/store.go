/*
Package resultstore is the TTL-backed mailbox through which the decision engine hands one-shot
authorization results to the chat-serving process.

Every result lives under auth_result:{correlationId}. Alongside it the engine writes a processed
marker, auth_done:{correlationId}, with the same TTL; the marker outlives consumption of the
result, so a redelivered request is recognised as already answered. Take is an atomic
get-and-delete: at most one reader ever consumes a given result. Peek lets a reader check
whom a result belongs to before consuming it.
*/
package resultstore

import (
	"context"
	"errors"
	"time"
)

const (
	resultKeyPrefix = "auth_result:"
	doneKeyPrefix   = "auth_done:"
)

// ErrNotFound is returned by Take when no result is stored for the correlation id.
var ErrNotFound = errors.New("resultstore: no result")

// Store is the mailbox contract shared by both sides of the bridge.
type Store interface {
	// Put stores the result and the processed marker, both expiring after ttl.
	// Overwriting an existing result is allowed.
	Put(ctx context.Context, correlationID string, payload []byte, ttl time.Duration) error

	// Peek reads the result without consuming it. ErrNotFound when absent.
	Peek(ctx context.Context, correlationID string) ([]byte, error)

	// Take atomically reads and deletes the result. ErrNotFound when absent.
	Take(ctx context.Context, correlationID string) ([]byte, error)

	// Processed reports whether a result was ever put for the correlation id
	// within the marker's TTL, whether or not it has been taken since.
	Processed(ctx context.Context, correlationID string) (bool, error)
}

// ResultKey returns the store key holding the result for a correlation id.
func ResultKey(correlationID string) string {
	return resultKeyPrefix + correlationID
}

// DoneKey returns the store key of the processed marker for a correlation id.
func DoneKey(correlationID string) string {
	return doneKeyPrefix + correlationID
}
