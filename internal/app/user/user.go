/*
Package user defines how a chat participant is represented to other participants.
*/
package user

// User is the identity of a chat participant as shown to the room.
// Fields use JSON tags for serialization in WebSocket messages.
type User struct {
	// ID is the fan's subject id.
	ID string `json:"id"`

	// Nickname is the display name of the fan in the chat room.
	Nickname string `json:"nickname"`

	// TeamID is the team the fan follows.
	TeamID string `json:"teamId,omitempty"`

	// Role is RoleHost for the fan who created a MATCH room, RoleFan otherwise.
	Role string `json:"role"`
}

const (
	RoleHost   = "host"
	RoleFan    = "fan"
	RoleSystem = "system"
)
