package pgsql

import "context"

// c-layer contracts exposed to other packages.
//
// Reconciliation filters are re-checked at write time by the conditional
// mutations (SetCanceled, MarkOnline, MarkDestroying); the boolean results
// tell the caller whether this process won the write.

type MatchRepo interface {
	Create(ctx context.Context, m Match) (int64, error)
	Read(ctx context.Context, id int64) (Match, error)
	ReadByServer(ctx context.Context, serverID int64) (Match, error)
	AddPlayer(ctx context.Context, matchID int64, playerID string, now string) error
	RemovePlayer(ctx context.Context, matchID int64, playerID string) error
	TouchActivity(ctx context.Context, matchID int64, now string) error
	AssignServer(ctx context.Context, matchID int64, serverID int64) error
	SetCanceled(ctx context.Context, matchID int64, reason string) (bool, error)
	FindInactiveUnscheduled(ctx context.Context, cutoff string) ([]Match, error)
	FindUnfulfilledScheduled(ctx context.Context, now string) ([]Match, error)
	FindProvisionReady(ctx context.Context, lookaheadCutoff string) ([]Match, error)
	FindColliding(ctx context.Context, playerID string, windowStart string, windowEnd string) (Match, bool, error)
}

type ServerRepo interface {
	Create(ctx context.Context, s Server) (int64, error)
	Read(ctx context.Context, id int64) (Server, error)
	MarkOnline(ctx context.Context, id int64, ip string, password string, rcon string, slots int, provisionedAt string, destroyAt string) (bool, error)
	MarkDestroying(ctx context.Context, id int64) (bool, error)
	MarkDestroyed(ctx context.Context, id int64, destroyedAt string) error
	FindDestroyable(ctx context.Context, now string) ([]Server, error)
}

type ActivityLogRepo interface {
	InsertUserActivity(ctx context.Context, row UserActivityLog) error
	ListUserActivity(ctx context.Context) ([]UserActivityLog, error)
	DeleteUserActivity(ctx context.Context) error
	InsertProcessed(ctx context.Context, row ProcessedActivityLog) error
}

type Repos struct {
	Match       MatchRepo
	Server      ServerRepo
	ActivityLog ActivityLogRepo
}

func NewRepos(connector SQLConnector) Repos {
	return Repos{
		Match:       NewMatchRepoI(connector),
		Server:      NewServerRepoI(connector),
		ActivityLog: NewActivityLogRepoI(connector),
	}
}
