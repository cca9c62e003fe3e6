package match

import (
	"context"
	"fmt"
	"time"

	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
)

type RemovalReason string

const (
	ReasonEnded       RemovalReason = "ENDED"
	ReasonInactivity  RemovalReason = "INACTIVITY"
	ReasonUnfulfilled RemovalReason = "SCHEDULED_MATCH_NOT_FULLFILLED"
	ReasonDeserted    RemovalReason = "DESERTED"
	ReasonCanceled    RemovalReason = "CANCELED"
)

const (
	// A player occupies a 90 minute slot around a match's effective time;
	// two of their matches closer than that collide.
	CollisionWindow = 90 * time.Minute

	// Unscheduled matches with no joins or leaves for this long get swept.
	InactivityCutoff = 15 * time.Minute

	// Scheduled matches enter the provisioning sweep this long before
	// their scheduled time and stay eligible until provisioned.
	ProvisionLookahead = 5 * time.Minute

	// How far ahead a match may be scheduled.
	MaxScheduleAhead = 2 // months

	MinSidePlayers = 1
	MaxSidePlayers = 10
)

// Rotation pool; a match with no explicit map gets a random pick.
var Maps = []string{
	"mp_carentan",
	"mp_dawnville",
	"mp_harbor",
	"mp_brecourt",
	"mp_railyard",
	"mp_hurtgen",
	"mp_pavlov",
	"mp_depot",
}

type CreateSpec struct {
	ChannelID   string
	CreatorID   string
	SidePlayers int
	MapName     string
	ScheduledAt *time.Time
}

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

type CollisionError struct {
	MatchID     int64
	EffectiveAt string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("player already has match %d around %s", e.MatchID, e.EffectiveAt)
}

// ProvisionError marks a join that filled the match but failed to get a
// server started; the join itself has landed.
type ProvisionError struct {
	MatchID int64
	Err     error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision for match %d failed: %v", e.MatchID, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// ServerLifecycle is what the match service needs from the server side:
// provisioning on fill and teardown on cancel.
type ServerLifecycle interface {
	CreateForMatch(ctx context.Context, m pgsql.Match) error
	Destroy(ctx context.Context, serverID int64) error
}

type Service interface {
	Create(ctx context.Context, spec CreateSpec) (pgsql.Match, error)
	Join(ctx context.Context, matchID int64, playerID string) (pgsql.Match, error)
	Leave(ctx context.Context, matchID int64, playerID string) error
	Cancel(ctx context.Context, matchID int64, reason RemovalReason) error
	Get(ctx context.Context, matchID int64) (pgsql.Match, error)

	CancelInactive(ctx context.Context) error
	CancelUnfulfilledScheduled(ctx context.Context) error
	ProvisionReady(ctx context.Context) error
}
