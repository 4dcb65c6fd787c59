package bridge

import "errors"

var (
	// ErrTimeout means no result arrived within the poll window. It is not a denial:
	// the caller may retry with a new correlation id.
	ErrTimeout = errors.New("bridge: authorization timed out")

	// ErrInfrastructure wraps bus and store failures. Retryable.
	ErrInfrastructure = errors.New("bridge: infrastructure failure")

	// ErrNotOwner means the result exists but belongs to another subject. It is left in place.
	ErrNotOwner = errors.New("bridge: result belongs to another subject")

	// ErrInvalidChatKind means no topic exists for the requested chat kind.
	ErrInvalidChatKind = errors.New("bridge: invalid chat kind")
)
