package registry

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/db"
)

// Runs against a real database when FANCHAT_TEST_DATABASE_URL is set.
func newTestPostgres(t *testing.T) *PostgresRegistry {
	t.Helper()

	dsn := os.Getenv("FANCHAT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FANCHAT_TEST_DATABASE_URL not set")
	}

	pool, err := db.NewPool(context.Background(), dsn, db.PoolOptions{Migrate: true})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresRegistry(pool)
}

func TestPostgresRegistry_ConcurrentCreateSingleRoom(t *testing.T) {
	reg := newTestPostgres(t)
	ctx := context.Background()
	key := "MATCH:team:t1:host:" + uuid.NewString()

	const n = 10
	var (
		mu  sync.Mutex
		ids = make(map[string]int)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := reg.GetOrCreateRoom(ctx, RoomSpec{
				NaturalKey:    key,
				ChatKind:      bridge.ChatKindMatch,
				TeamID:        "t1",
				HostID:        "u1",
				Meta:          map[string]string{"title": "away end"},
				CorrelationID: uuid.NewString(),
			})
			if assert.NoError(t, err) {
				mu.Lock()
				ids[room.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, 1)
	for id := range ids {
		room, err := reg.GetRoom(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, key, room.NaturalKey)
		assert.Equal(t, "away end", room.Meta["title"])
	}
}

func TestPostgresRegistry_GetRoomMissing(t *testing.T) {
	reg := newTestPostgres(t)

	_, err := reg.GetRoom(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
