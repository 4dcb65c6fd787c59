package resultstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store with lazy expiry.
type MemoryStore struct {
	// mu protects entries; every operation is atomic per key because it holds mu.
	mu      sync.Mutex
	entries map[string]memoryEntry

	now func() time.Time
}

// NewMemoryStore constructs an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the store's clock. Used to exercise expiry without sleeping.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) Put(ctx context.Context, correlationID string, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)
	s.entries[ResultKey(correlationID)] = memoryEntry{payload: append([]byte(nil), payload...), expiresAt: expiresAt}
	s.entries[DoneKey(correlationID)] = memoryEntry{expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Peek(ctx context.Context, correlationID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(ResultKey(correlationID))
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.payload...), nil
}

func (s *MemoryStore) Take(ctx context.Context, correlationID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ResultKey(correlationID)
	entry, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	return entry.payload, nil
}

func (s *MemoryStore) Processed(ctx context.Context, correlationID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(DoneKey(correlationID))
	return ok, nil
}

// live returns the entry if present and unexpired, evicting it otherwise. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Len reports the number of stored keys, expired ones included until touched.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
