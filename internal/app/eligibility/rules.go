package eligibility

import (
	"math"
	"time"

	"fanchat/internal/app/bridge"
)

const earthRadiusMeters = 6371008.8

// HaversineMeters is the great-circle distance between a and b.
func HaversineMeters(a, b Position) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Window is a closed time interval.
type Window struct {
	Opens  time.Time
	Closes time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Opens) && !t.After(w.Closes)
}

// Profile is the read-model row of a fan.
type Profile struct {
	SubjectID string
	TeamID    string
	Nickname  string
	Banned    bool
}

// Game is the read-model row of a game.
type Game struct {
	ID         string
	HomeTeamID string
	AwayTeamID string
	StartsAt   time.Time
	Venue      Position
	Status     string
}

func (g Game) Involves(teamID string) bool {
	return g.HomeTeamID == teamID || g.AwayTeamID == teamID
}

const GameStatusCancelled = "CANCELLED"

// Rules are the tunables of the decision.
type Rules struct {
	// GeofenceRadiusMeters bounds the distance from the venue for WATCH rooms.
	GeofenceRadiusMeters float64

	// OpensBefore and ClosesAfter define the window around kick-off.
	OpensBefore time.Duration
	ClosesAfter time.Duration
}

func (r Rules) WindowFor(g Game) Window {
	return Window{Opens: g.StartsAt.Add(-r.OpensBefore), Closes: g.StartsAt.Add(r.ClosesAfter)}
}

// Evaluate decides q from the loaded facts. profile is nil for unknown fans; game is nil
// when q names no game or the game does not exist.
func (r Rules) Evaluate(q Query, profile *Profile, game *Game, now time.Time) Verdict {
	if profile == nil {
		return Ineligible(ReasonUnknownFan)
	}
	if profile.Banned {
		return Ineligible(ReasonBanned)
	}
	if profile.TeamID != q.TeamID {
		return Ineligible(ReasonTeamMismatch)
	}

	if q.GameID != "" {
		if game == nil {
			return Ineligible(ReasonGameNotFound)
		}
		if game.Status == GameStatusCancelled {
			return Ineligible(ReasonGameCancelled)
		}
		if !game.Involves(q.TeamID) {
			return Ineligible(ReasonTeamNotPlaying)
		}
		if !r.WindowFor(*game).Contains(now) {
			return Ineligible(ReasonOutsideWindow)
		}
	}

	if q.ChatKind == bridge.ChatKindWatch && game != nil {
		switch {
		case q.PositionInvalid:
			return Ineligible(ReasonInvalidLocation)
		case q.Position == nil:
			return Ineligible(ReasonLocationRequired)
		case HaversineMeters(*q.Position, game.Venue) > r.GeofenceRadiusMeters:
			return Ineligible(ReasonOutsideGeofence)
		}
	}

	return Eligible(bridge.UserInfo{
		SubjectID: profile.SubjectID,
		TeamID:    profile.TeamID,
		Nickname:  profile.Nickname,
	})
}
