package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fanchat/internal/app/db"
)

// PostgresOracle evaluates Rules against the fan_profiles and games read model.
type PostgresOracle struct {
	pool  *pgxpool.Pool
	rules Rules
	now   func() time.Time
}

func NewPostgresOracle(pool *pgxpool.Pool, rules Rules) *PostgresOracle {
	return &PostgresOracle{pool: pool, rules: rules, now: time.Now}
}

func (o *PostgresOracle) CheckEligibility(ctx context.Context, q Query) (Verdict, error) {
	profile, err := o.profile(ctx, q.SubjectID)
	if err != nil {
		return Verdict{}, err
	}

	var game *Game
	if q.GameID != "" && profile != nil {
		game, err = o.game(ctx, q.GameID)
		if err != nil {
			return Verdict{}, err
		}
	}

	return o.rules.Evaluate(q, profile, game, o.now()), nil
}

func (o *PostgresOracle) profile(ctx context.Context, subjectID string) (*Profile, error) {
	p := Profile{SubjectID: subjectID}
	err := o.pool.QueryRow(ctx,
		`SELECT team_id, nickname, banned FROM fan_profiles WHERE subject_id = $1`, subjectID,
	).Scan(&p.TeamID, &p.Nickname, &p.Banned)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fan profile %s: %w", subjectID, err)
	}
	return &p, nil
}

func (o *PostgresOracle) game(ctx context.Context, gameID string) (*Game, error) {
	g := Game{ID: gameID}
	err := o.pool.QueryRow(ctx,
		`SELECT home_team_id, away_team_id, starts_at, venue_lat, venue_lng, status FROM games WHERE id = $1`, gameID,
	).Scan(&g.HomeTeamID, &g.AwayTeamID, &g.StartsAt, &g.Venue.Lat, &g.Venue.Lng, &g.Status)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	return &g, nil
}
