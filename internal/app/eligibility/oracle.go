/*
Package eligibility decides whether a fan may create or join a chat room right now.

The decision combines team membership, the game's watch window and, for watch-along rooms,
the fan's distance from the venue. An ineligible fan gets a Verdict with a reason; errors are
reserved for failures to reach the facts.
*/
package eligibility

import (
	"context"
	"strconv"

	"fanchat/internal/app/bridge"
)

// Reasons returned in ineligible verdicts. They are shown to the fan as-is.
const (
	ReasonUnknownFan       = "unknown fan"
	ReasonBanned           = "banned"
	ReasonTeamMismatch     = "not a member of this team"
	ReasonGameNotFound     = "game not found"
	ReasonGameCancelled    = "game cancelled"
	ReasonTeamNotPlaying   = "team not playing in this game"
	ReasonOutsideWindow    = "outside time window"
	ReasonLocationRequired = "location required"
	ReasonInvalidLocation  = "invalid location"
	ReasonOutsideGeofence  = "outside geofence"
)

// Position is a WGS84 coordinate in degrees.
type Position struct {
	Lat float64
	Lng float64
}

// Query is what the engine asks about.
type Query struct {
	SubjectID string
	TeamID    string
	GameID    string
	ChatKind  bridge.ChatKind
	Action    bridge.Action

	// Position is the caller's reported position, if any.
	Position *Position

	// PositionInvalid is set when a position was sent but could not be parsed.
	PositionInvalid bool
}

// QueryFor builds the query for an authorization request. The caller's position is read
// from the latitude/longitude keys of roomMeta.
func QueryFor(req *bridge.AuthorizationRequest) Query {
	q := Query{
		SubjectID: req.SubjectID,
		TeamID:    req.TeamID,
		GameID:    req.GameID,
		ChatKind:  req.ChatKind,
		Action:    req.Action,
	}
	q.Position, q.PositionInvalid = positionFromMeta(req.RoomMeta)
	return q
}

func positionFromMeta(meta map[string]string) (*Position, bool) {
	latRaw, hasLat := meta["latitude"]
	lngRaw, hasLng := meta["longitude"]
	if !hasLat && !hasLng {
		return nil, false
	}

	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, true
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil || lng < -180 || lng > 180 {
		return nil, true
	}
	return &Position{Lat: lat, Lng: lng}, false
}

// Verdict is the oracle's answer.
type Verdict struct {
	Eligible bool
	Reason   string
	User     bridge.UserInfo
}

func Eligible(user bridge.UserInfo) Verdict {
	return Verdict{Eligible: true, User: user}
}

func Ineligible(reason string) Verdict {
	return Verdict{Reason: reason}
}

// Oracle answers eligibility queries.
type Oracle interface {
	CheckEligibility(ctx context.Context, q Query) (Verdict, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, q Query) (Verdict, error)

func (f OracleFunc) CheckEligibility(ctx context.Context, q Query) (Verdict, error) {
	return f(ctx, q)
}
