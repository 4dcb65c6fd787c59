/*
Package registry owns room assignment: the mapping from a room's natural key to the room
that serves it. The decision engine is its only writer.
*/
package registry

import (
	"context"
	"errors"
	"time"

	"fanchat/internal/app/bridge"
)

// ErrRoomNotFound is returned by GetRoom for unknown room ids.
var ErrRoomNotFound = errors.New("registry: room not found")

// RoomSpec describes the room a CREATE asks for.
type RoomSpec struct {
	NaturalKey    string
	ChatKind      bridge.ChatKind
	GameID        string
	TeamID        string
	HostID        string
	Meta          map[string]string
	CorrelationID string
}

// Room is a registered room.
type Room struct {
	ID         string
	NaturalKey string
	ChatKind   bridge.ChatKind
	GameID     string
	TeamID     string
	HostID     string
	Meta       map[string]string

	// CreatedBy is the correlation id of the request that created the room.
	CreatedBy string
	CreatedAt time.Time
}

// CreatedByRequest reports whether the request with correlationID created this room.
// A redelivered creating request still reports true.
func (r Room) CreatedByRequest(correlationID string) bool {
	return r.CreatedBy != "" && r.CreatedBy == correlationID
}

// Info converts the room to its wire form for the request with correlationID.
func (r Room) Info(correlationID string) bridge.RoomInfo {
	return bridge.RoomInfo{
		RoomID:     r.ID,
		ChatKind:   r.ChatKind,
		NaturalKey: r.NaturalKey,
		GameID:     r.GameID,
		TeamID:     r.TeamID,
		HostID:     r.HostID,
		Meta:       r.Meta,
		IsNewRoom:  r.CreatedByRequest(correlationID),
		CreatedAt:  r.CreatedAt,
	}
}

// Registry stores rooms.
type Registry interface {
	// GetOrCreateRoom returns the room registered under spec.NaturalKey, creating it if
	// absent. It is atomic per natural key.
	GetOrCreateRoom(ctx context.Context, spec RoomSpec) (Room, error)

	// GetRoom returns the room with the given id or ErrRoomNotFound.
	GetRoom(ctx context.Context, roomID string) (Room, error)
}
