package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/db"
	"fanchat/internal/pkg/randx"
)

const (
	insertRoomSQL = `
INSERT INTO chat_rooms (id, natural_key, chat_kind, game_id, team_id, host_id, meta, created_by_correlation)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
ON CONFLICT (natural_key) DO NOTHING
RETURNING id, natural_key, chat_kind, COALESCE(game_id, ''), COALESCE(team_id, ''), host_id, meta, created_by_correlation, created_at`

	selectRoomColumns = `
SELECT id, natural_key, chat_kind, COALESCE(game_id, ''), COALESCE(team_id, ''), host_id, meta, created_by_correlation, created_at
FROM chat_rooms`
)

// PostgresRegistry stores rooms in the chat_rooms table. The unique natural_key constraint
// makes GetOrCreateRoom atomic across engine instances.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) GetOrCreateRoom(ctx context.Context, spec RoomSpec) (Room, error) {
	meta, err := json.Marshal(spec.Meta)
	if err != nil {
		return Room{}, fmt.Errorf("encode room meta: %w", err)
	}
	if spec.Meta == nil {
		meta = []byte("{}")
	}

	// A colliding room id surfaces as a unique violation on the primary key; draw again.
	for attempt := 0; attempt < 3; attempt++ {
		id, err := randx.RoomID()
		if err != nil {
			return Room{}, fmt.Errorf("generate room id: %w", err)
		}

		row := r.pool.QueryRow(ctx, insertRoomSQL,
			id, spec.NaturalKey, string(spec.ChatKind), spec.GameID, spec.TeamID, spec.HostID, meta, spec.CorrelationID)

		room, err := scanRoom(row)
		switch {
		case err == nil:
			return room, nil
		case db.IsNoRows(err):
			// Lost the race or the room existed already.
			return r.getByNaturalKey(ctx, spec.NaturalKey)
		case db.IsUniqueViolation(err):
			continue
		default:
			return Room{}, fmt.Errorf("insert room %s: %w", spec.NaturalKey, err)
		}
	}

	return Room{}, fmt.Errorf("insert room %s: room id collisions", spec.NaturalKey)
}

func (r *PostgresRegistry) getByNaturalKey(ctx context.Context, naturalKey string) (Room, error) {
	room, err := scanRoom(r.pool.QueryRow(ctx, selectRoomColumns+` WHERE natural_key = $1`, naturalKey))
	if err != nil {
		return Room{}, fmt.Errorf("select room %s: %w", naturalKey, err)
	}
	return room, nil
}

func (r *PostgresRegistry) GetRoom(ctx context.Context, roomID string) (Room, error) {
	room, err := scanRoom(r.pool.QueryRow(ctx, selectRoomColumns+` WHERE id = $1`, roomID))
	if db.IsNoRows(err) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("select room %s: %w", roomID, err)
	}
	return room, nil
}

func scanRoom(row pgx.Row) (Room, error) {
	var (
		room      Room
		kind      string
		meta      []byte
		createdAt time.Time
	)

	err := row.Scan(&room.ID, &room.NaturalKey, &kind, &room.GameID, &room.TeamID, &room.HostID, &meta, &room.CreatedBy, &createdAt)
	if err != nil {
		return Room{}, err
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &room.Meta); err != nil {
			return Room{}, fmt.Errorf("decode room meta: %w", err)
		}
	}
	if len(room.Meta) == 0 {
		room.Meta = nil
	}

	room.ChatKind = bridge.ChatKind(kind)
	room.CreatedAt = createdAt.UTC()
	return room, nil
}
