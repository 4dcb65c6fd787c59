package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanchat/internal/app/bridge"
)

func watchSpec(cid string) RoomSpec {
	return RoomSpec{
		NaturalKey:    "WATCH:game:42",
		ChatKind:      bridge.ChatKindWatch,
		GameID:        "42",
		TeamID:        "team-7",
		HostID:        "fan-1",
		CorrelationID: cid,
	}
}

func TestMemoryRegistry_GetOrCreate(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	first, err := reg.GetOrCreateRoom(ctx, watchSpec("c1"))
	require.NoError(t, err)
	assert.True(t, first.CreatedByRequest("c1"))
	assert.Len(t, first.ID, 10)

	second, err := reg.GetOrCreateRoom(ctx, watchSpec("c2"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.CreatedByRequest("c2"))

	// The creating request, redelivered.
	again, err := reg.GetOrCreateRoom(ctx, watchSpec("c1"))
	require.NoError(t, err)
	assert.True(t, again.Info("c1").IsNewRoom)

	got, err := reg.GetRoom(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "WATCH:game:42", got.NaturalKey)
	assert.Equal(t, 1, reg.Len())
}

func TestMemoryRegistry_GetRoomMissing(t *testing.T) {
	_, err := NewMemoryRegistry().GetRoom(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemoryRegistry_ConcurrentCreateSingleRoom(t *testing.T) {
	reg := NewMemoryRegistry()

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := reg.GetOrCreateRoom(context.Background(), watchSpec(fmt.Sprintf("c%d", i)))
			if err == nil {
				ids <- room.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	distinct := make(map[string]bool)
	for id := range ids {
		distinct[id] = true
	}
	assert.Len(t, distinct, 1)
	assert.Equal(t, 1, reg.Len())
}

func TestRoom_InfoCopiesFields(t *testing.T) {
	room := Room{ID: "r1", NaturalKey: "MATCH:team:t:host:u", ChatKind: bridge.ChatKindMatch, TeamID: "t", CreatedBy: "c1"}

	info := room.Info("c9")
	assert.Equal(t, "r1", info.RoomID)
	assert.Equal(t, bridge.ChatKindMatch, info.ChatKind)
	assert.False(t, info.IsNewRoom)
}
