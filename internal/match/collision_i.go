package match

import (
	"context"
	"time"

	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/timefmt"
)

// CollisionDetector finds the earliest non-canceled match of a player whose
// effective time sits inside the symmetric window around a candidate time.
type CollisionDetector struct {
	matches pgsql.MatchRepo
}

func NewCollisionDetector(matches pgsql.MatchRepo) *CollisionDetector {
	return &CollisionDetector{matches: matches}
}

func (d *CollisionDetector) Find(ctx context.Context, playerID string, effectiveAt time.Time) (pgsql.Match, bool, error) {
	windowStart := timefmt.Format(effectiveAt.Add(-CollisionWindow))
	windowEnd := timefmt.Format(effectiveAt.Add(CollisionWindow))
	return d.matches.FindColliding(ctx, playerID, windowStart, windowEnd)
}
