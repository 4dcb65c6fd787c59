package jwt

import "github.com/golang-jwt/jwt"

// IdentityPayload is the identity token a fan presents to the chat API.
// It is issued by the account service; this server only verifies it.
type IdentityPayload struct {
	// StandardClaims carries the subject (the fan's id), expiry and issuer.
	jwt.StandardClaims

	// TeamID is the team the fan follows.
	TeamID string `json:"team_id"`

	// Nickname is the fan's display name, if the account service knows one.
	Nickname string `json:"nickname,omitempty"`
}

// SubjectID is the fan's id.
func (p *IdentityPayload) SubjectID() string {
	return p.Subject
}

// RoomPayload defines the claims of a room access token, minted after the decision engine
// authorized the holder for one room.
type RoomPayload struct {
	jwt.StandardClaims

	// ID is the authorized fan's subject id.
	ID string `json:"id"`

	// RoomID is the only room this token opens.
	RoomID string `json:"room_id"`

	// ChatKind is WATCH or MATCH.
	ChatKind string `json:"chat_kind"`

	TeamID   string `json:"team_id"`
	Nickname string `json:"nickname"`

	// Role is "host" for the creator of a MATCH room.
	Role string `json:"role,omitempty"`
}
