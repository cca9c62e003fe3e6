package pgsql

import (
	"database/sql"
	"strings"
)

// Timestamps cross the store boundary as "YYYY-MM-DD HH:mm:ss" strings
// (timefmt.Layout). The provisioning pipeline on the other side of the
// status feed writes the same format, so rows stay interoperable.

type Match struct {
	ID             int64          `db:"id"`
	ChannelID      string         `db:"channel_id"`
	CreatorID      string         `db:"creator_id"`
	MaxPlayers     int            `db:"max_players"`
	Maps           string         `db:"maps"`
	ScheduledAt    sql.NullString `db:"scheduled_at"`
	ServerID       sql.NullInt64  `db:"server_id"`
	CanceledReason sql.NullString `db:"canceled_reason"`
	CreatedAt      string         `db:"created_at"`
	LastActivityAt string         `db:"last_activity_at"`

	// Participant ids, loaded together with the row.
	Players []string `db:"-"`
}

func (m Match) IsFull() bool {
	return len(m.Players) >= m.MaxPlayers
}

func (m Match) HasServer() bool {
	return m.ServerID.Valid
}

func (m Match) IsCanceled() bool {
	return m.CanceledReason.Valid
}

func (m Match) IsScheduled() bool {
	return m.ScheduledAt.Valid
}

// EffectiveAt is the time a match occupies for collision purposes:
// its scheduled time, or its creation time for immediate matches.
func (m Match) EffectiveAt() string {
	if m.ScheduledAt.Valid {
		return m.ScheduledAt.String
	}
	return m.CreatedAt
}

func (m Match) MapList() []string {
	if strings.TrimSpace(m.Maps) == "" {
		return nil
	}
	parts := strings.Split(m.Maps, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m Match) HasPlayer(playerID string) bool {
	for _, p := range m.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

type Server struct {
	ID                int64          `db:"id"`
	Name              string         `db:"name"`
	Status            string         `db:"status"`
	IP                sql.NullString `db:"ip"`
	Password          sql.NullString `db:"password"`
	RCON              sql.NullString `db:"rcon"`
	Slots             sql.NullInt64  `db:"slots"`
	UserID            sql.NullString `db:"user_id"`
	CreationRequestAt string         `db:"creation_request_at"`
	ProvisionedAt     sql.NullString `db:"provisioned_at"`
	DestroyAt         sql.NullString `db:"destroy_at"`
	DestroyedAt       sql.NullString `db:"destroyed_at"`
}

// UserProvided servers are exempt from the auto-destroy sweep.
func (s Server) UserProvided() bool {
	return s.UserID.Valid
}

type UserActivityLog struct {
	ID        int64          `db:"id"`
	UserID    string         `db:"user_id"`
	Username  string         `db:"username"`
	Game      sql.NullString `db:"game"`
	CreatedAt string         `db:"created_at"`
}

type ProcessedActivityLog struct {
	ID       int64  `db:"id"`
	Online   string `db:"online"`
	Playing  string `db:"playing"`
	OnlineAt string `db:"online_at"`
}
