package registry

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"fanchat/internal/pkg/randx"
)

// MemoryRegistry keeps rooms in process memory.
type MemoryRegistry struct {
	// mu protects both indexes.
	mu    sync.RWMutex
	byID  map[string]Room
	byKey map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byID:  make(map[string]Room),
		byKey: make(map[string]string),
	}
}

func (r *MemoryRegistry) GetOrCreateRoom(ctx context.Context, spec RoomSpec) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[spec.NaturalKey]; ok {
		return r.byID[id], nil
	}

	id, err := r.newID()
	if err != nil {
		return Room{}, err
	}

	room := Room{
		ID:         id,
		NaturalKey: spec.NaturalKey,
		ChatKind:   spec.ChatKind,
		GameID:     spec.GameID,
		TeamID:     spec.TeamID,
		HostID:     spec.HostID,
		Meta:       maps.Clone(spec.Meta),
		CreatedBy:  spec.CorrelationID,
		CreatedAt:  time.Now().UTC(),
	}
	r.byID[id] = room
	r.byKey[spec.NaturalKey] = id

	return room, nil
}

// newID draws room ids until one is unused. Caller holds mu.
func (r *MemoryRegistry) newID() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := randx.RoomID()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		if _, taken := r.byID[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate room id: too many collisions")
}

func (r *MemoryRegistry) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.byID[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return room, nil
}

// Len reports the number of registered rooms.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
