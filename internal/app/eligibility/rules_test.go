package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanchat/internal/app/bridge"
)

var (
	kickoff = time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	venue   = Position{Lat: 37.4979, Lng: 127.0276}

	testRules = Rules{
		GeofenceRadiusMeters: 500,
		OpensBefore:          time.Hour,
		ClosesAfter:          4 * time.Hour,
	}

	game42 = Game{ID: "42", HomeTeamID: "7", AwayTeamID: "9", StartsAt: kickoff, Venue: venue}
	fan    = Profile{SubjectID: "fan-1", TeamID: "7", Nickname: "Bleacher"}
)

func TestHaversineMeters(t *testing.T) {
	assert.InDelta(t, 0, HaversineMeters(venue, venue), 1e-6)

	// One degree of latitude is about 111.2 km.
	d := HaversineMeters(Position{Lat: 0, Lng: 0}, Position{Lat: 1, Lng: 0})
	assert.InDelta(t, 111195, d, 50)
}

func TestWindow_Contains(t *testing.T) {
	w := testRules.WindowFor(game42)

	assert.True(t, w.Contains(kickoff.Add(-time.Hour)))
	assert.True(t, w.Contains(kickoff.Add(4*time.Hour)))
	assert.False(t, w.Contains(kickoff.Add(-time.Hour-time.Second)))
	assert.False(t, w.Contains(kickoff.Add(4*time.Hour+time.Second)))
}

func TestRules_Evaluate(t *testing.T) {
	near := &Position{Lat: venue.Lat + 0.001, Lng: venue.Lng}
	far := &Position{Lat: venue.Lat + 0.05, Lng: venue.Lng}
	banned := Profile{SubjectID: "fan-2", TeamID: "7", Banned: true}
	cancelled := game42
	cancelled.Status = GameStatusCancelled

	watch := func(pos *Position) Query {
		return Query{SubjectID: "fan-1", TeamID: "7", GameID: "42", ChatKind: bridge.ChatKindWatch, Action: bridge.ActionCreate, Position: pos}
	}

	cases := []struct {
		name    string
		q       Query
		profile *Profile
		game    *Game
		now     time.Time
		reason  string
	}{
		{name: "eligible watch", q: watch(near), profile: &fan, game: &game42, now: kickoff},
		{name: "unknown fan", q: watch(near), game: &game42, now: kickoff, reason: ReasonUnknownFan},
		{name: "banned", q: watch(near), profile: &banned, game: &game42, now: kickoff, reason: ReasonBanned},
		{name: "team mismatch", q: Query{SubjectID: "fan-1", TeamID: "9", GameID: "42", ChatKind: bridge.ChatKindWatch, Position: near}, profile: &fan, game: &game42, now: kickoff, reason: ReasonTeamMismatch},
		{name: "game missing", q: watch(near), profile: &fan, now: kickoff, reason: ReasonGameNotFound},
		{name: "game cancelled", q: watch(near), profile: &fan, game: &cancelled, now: kickoff, reason: ReasonGameCancelled},
		{name: "too early", q: watch(near), profile: &fan, game: &game42, now: kickoff.Add(-2 * time.Hour), reason: ReasonOutsideWindow},
		{name: "no location", q: watch(nil), profile: &fan, game: &game42, now: kickoff, reason: ReasonLocationRequired},
		{name: "bad location", q: Query{SubjectID: "fan-1", TeamID: "7", GameID: "42", ChatKind: bridge.ChatKindWatch, PositionInvalid: true}, profile: &fan, game: &game42, now: kickoff, reason: ReasonInvalidLocation},
		{name: "outside geofence", q: watch(far), profile: &fan, game: &game42, now: kickoff, reason: ReasonOutsideGeofence},
		{name: "match without game", q: Query{SubjectID: "fan-1", TeamID: "7", ChatKind: bridge.ChatKindMatch, Action: bridge.ActionCreate}, profile: &fan, now: kickoff},
		{name: "match ignores geofence", q: Query{SubjectID: "fan-1", TeamID: "7", GameID: "42", ChatKind: bridge.ChatKindMatch, Position: far}, profile: &fan, game: &game42, now: kickoff},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := testRules.Evaluate(tc.q, tc.profile, tc.game, tc.now)
			if tc.reason == "" {
				require.True(t, v.Eligible, v.Reason)
				assert.Equal(t, "fan-1", v.User.SubjectID)
				assert.Equal(t, "Bleacher", v.User.Nickname)
				return
			}
			assert.False(t, v.Eligible)
			assert.Equal(t, tc.reason, v.Reason)
		})
	}
}

func TestQueryFor_ReadsPositionFromMeta(t *testing.T) {
	req := &bridge.AuthorizationRequest{
		SubjectID: "fan-1", TeamID: "7", GameID: "42", ChatKind: bridge.ChatKindWatch, Action: bridge.ActionCreate,
		RoomMeta: map[string]string{"latitude": "37.4979", "longitude": "127.0276", "title": "north stand"},
	}

	q := QueryFor(req)
	require.NotNil(t, q.Position)
	assert.InDelta(t, 37.4979, q.Position.Lat, 1e-9)
	assert.False(t, q.PositionInvalid)

	req.RoomMeta = map[string]string{"latitude": "north"}
	q = QueryFor(req)
	assert.Nil(t, q.Position)
	assert.True(t, q.PositionInvalid)

	req.RoomMeta = nil
	q = QueryFor(req)
	assert.Nil(t, q.Position)
	assert.False(t, q.PositionInvalid)
}

func TestStaticOracle(t *testing.T) {
	o := NewStaticOracle(testRules).WithClock(func() time.Time { return kickoff })
	o.PutProfile(fan)
	o.PutGame(game42)

	v, err := o.CheckEligibility(context.Background(), Query{SubjectID: "fan-1", TeamID: "7", GameID: "42", ChatKind: bridge.ChatKindWatch, Position: &venue})
	require.NoError(t, err)
	assert.True(t, v.Eligible)

	v, err = o.CheckEligibility(context.Background(), Query{SubjectID: "stranger", TeamID: "7", ChatKind: bridge.ChatKindMatch})
	require.NoError(t, err)
	assert.Equal(t, ReasonUnknownFan, v.Reason)

	o.AutoEnroll = true
	v, err = o.CheckEligibility(context.Background(), Query{SubjectID: "stranger", TeamID: "7", ChatKind: bridge.ChatKindMatch})
	require.NoError(t, err)
	assert.True(t, v.Eligible)
	assert.Equal(t, "7", v.User.TeamID)
}
