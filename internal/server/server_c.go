package server

import (
	"context"
	"fmt"
	"time"

	"github.com/akalitenya/discord-matchmaking/internal/match"
	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
)

const (
	StatusCreating   = "creating"
	StatusOnline     = "online"
	StatusDestroying = "destroying"
	StatusDestroyed  = "destroyed"
)

const (
	// Lifetime of a provisioned server before the destroy sweep may take it.
	DestroyTTL = 75 * time.Minute

	// Spectator headroom on top of the match's player slots.
	ExtraSlots = 2
)

// NameForMatch is the fleet-wide server identity; the status feed reports
// readiness under this name.
func NameForMatch(environment string, matchID int64) string {
	return fmt.Sprintf("%s-match-%d", environment, matchID)
}

type Service interface {
	CreateForMatch(ctx context.Context, m pgsql.Match) error
	Destroy(ctx context.Context, serverID int64) error
	DestroyExpired(ctx context.Context) error
	Close()
}

// Canceler is the slice of the match service the destroy sweep needs:
// ending a finished match, which cascades back into Destroy.
type Canceler interface {
	Cancel(ctx context.Context, matchID int64, reason match.RemovalReason) error
}
