package eligibility

import (
	"context"
	"sync"
	"time"
)

// StaticOracle evaluates Rules against facts held in memory. It backs the standalone
// process and tests.
type StaticOracle struct {
	rules Rules
	now   func() time.Time

	// AutoEnroll treats unknown fans as members of the team they ask for.
	AutoEnroll bool

	mu       sync.RWMutex
	profiles map[string]Profile
	games    map[string]Game
}

func NewStaticOracle(rules Rules) *StaticOracle {
	return &StaticOracle{
		rules:    rules,
		now:      time.Now,
		profiles: make(map[string]Profile),
		games:    make(map[string]Game),
	}
}

// WithClock replaces the oracle's clock.
func (o *StaticOracle) WithClock(now func() time.Time) *StaticOracle {
	o.now = now
	return o
}

func (o *StaticOracle) PutProfile(p Profile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profiles[p.SubjectID] = p
}

func (o *StaticOracle) PutGame(g Game) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.games[g.ID] = g
}

func (o *StaticOracle) CheckEligibility(ctx context.Context, q Query) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	var profile *Profile
	if p, ok := o.profiles[q.SubjectID]; ok {
		profile = &p
	} else if o.AutoEnroll {
		profile = &Profile{SubjectID: q.SubjectID, TeamID: q.TeamID}
	}

	var game *Game
	if g, ok := o.games[q.GameID]; ok && q.GameID != "" {
		game = &g
	}

	return o.rules.Evaluate(q, profile, game, o.now()), nil
}
