package pgsql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// i-layer implementations.

const matchColumns = `
	m.id, m.channel_id, m.creator_id, m.max_players, m.maps,
	m.scheduled_at, m.server_id, m.canceled_reason, m.created_at, m.last_activity_at,
	COALESCE(string_agg(mp.player_id, ',' ORDER BY mp.joined_at, mp.player_id), '')`

type MatchRepoI struct{ connector SQLConnector }

func NewMatchRepoI(connector SQLConnector) *MatchRepoI { return &MatchRepoI{connector: connector} }

func scanMatch(scan func(dest ...any) error) (Match, error) {
	var m Match
	var playersCSV string
	err := scan(
		&m.ID, &m.ChannelID, &m.CreatorID, &m.MaxPlayers, &m.Maps,
		&m.ScheduledAt, &m.ServerID, &m.CanceledReason, &m.CreatedAt, &m.LastActivityAt,
		&playersCSV,
	)
	if err != nil {
		return Match{}, err
	}
	if playersCSV != "" {
		m.Players = strings.Split(playersCSV, ",")
	}
	return m, nil
}

func (r *MatchRepoI) Create(ctx context.Context, m Match) (int64, error) {
	var id int64
	err := r.connector.QueryRowContext(ctx, `
		INSERT INTO matches (channel_id, creator_id, max_players, maps, scheduled_at, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, m.ChannelID, m.CreatorID, m.MaxPlayers, m.Maps, m.ScheduledAt, m.CreatedAt, m.LastActivityAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *MatchRepoI) Read(ctx context.Context, id int64) (Match, error) {
	row := r.connector.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches m
		LEFT JOIN match_players mp ON mp.match_id = m.id
		WHERE m.id = $1
		GROUP BY m.id
	`, id)
	return scanMatch(row.Scan)
}

func (r *MatchRepoI) ReadByServer(ctx context.Context, serverID int64) (Match, error) {
	row := r.connector.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches m
		LEFT JOIN match_players mp ON mp.match_id = m.id
		WHERE m.server_id = $1
		GROUP BY m.id
	`, serverID)
	return scanMatch(row.Scan)
}

func (r *MatchRepoI) AddPlayer(ctx context.Context, matchID int64, playerID string, now string) error {
	_, err := r.connector.ExecContext(ctx, `
		INSERT INTO match_players (match_id, player_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (match_id, player_id) DO NOTHING
	`, matchID, playerID, now)
	return err
}

func (r *MatchRepoI) RemovePlayer(ctx context.Context, matchID int64, playerID string) error {
	_, err := r.connector.ExecContext(ctx, `
		DELETE FROM match_players
		WHERE match_id = $1 AND player_id = $2
	`, matchID, playerID)
	return err
}

func (r *MatchRepoI) TouchActivity(ctx context.Context, matchID int64, now string) error {
	_, err := r.connector.ExecContext(ctx, `
		UPDATE matches SET last_activity_at = $2 WHERE id = $1
	`, matchID, now)
	return err
}

func (r *MatchRepoI) AssignServer(ctx context.Context, matchID int64, serverID int64) error {
	_, err := r.connector.ExecContext(ctx, `
		UPDATE matches SET server_id = $2 WHERE id = $1
	`, matchID, serverID)
	return err
}

// SetCanceled is the terminal transition; the WHERE clause makes a repeat
// cancel a no-op and reports whether this call won the write.
func (r *MatchRepoI) SetCanceled(ctx context.Context, matchID int64, reason string) (bool, error) {
	res, err := r.connector.ExecContext(ctx, `
		UPDATE matches SET canceled_reason = $2
		WHERE id = $1 AND canceled_reason IS NULL
	`, matchID, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MatchRepoI) FindInactiveUnscheduled(ctx context.Context, cutoff string) ([]Match, error) {
	return r.list(ctx, `
		SELECT `+matchColumns+`
		FROM matches m
		LEFT JOIN match_players mp ON mp.match_id = m.id
		WHERE m.canceled_reason IS NULL
		  AND m.scheduled_at IS NULL
		  AND m.server_id IS NULL
		  AND m.last_activity_at < $1
		GROUP BY m.id
		ORDER BY m.id
	`, cutoff)
}

func (r *MatchRepoI) FindUnfulfilledScheduled(ctx context.Context, now string) ([]Match, error) {
	return r.list(ctx, `
		SELECT `+matchColumns+`
		FROM matches m
		LEFT JOIN match_players mp ON mp.match_id = m.id
		WHERE m.canceled_reason IS NULL
		  AND m.scheduled_at IS NOT NULL
		  AND m.server_id IS NULL
		  AND m.scheduled_at < $1
		GROUP BY m.id
		ORDER BY m.id
	`, now)
}

func (r *MatchRepoI) FindProvisionReady(ctx context.Context, lookaheadCutoff string) ([]Match, error) {
	return r.list(ctx, `
		SELECT `+matchColumns+`
		FROM matches m
		LEFT JOIN match_players mp ON mp.match_id = m.id
		WHERE m.canceled_reason IS NULL
		  AND m.server_id IS NULL
		  AND (m.scheduled_at IS NULL OR m.scheduled_at > $1)
		GROUP BY m.id
		ORDER BY m.id
	`, lookaheadCutoff)
}

// FindColliding returns the earliest non-canceled match of the player whose
// effective time falls inside (windowStart, windowEnd).
func (r *MatchRepoI) FindColliding(ctx context.Context, playerID string, windowStart string, windowEnd string) (Match, bool, error) {
	row := r.connector.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches m
		JOIN match_players p ON p.match_id = m.id AND p.player_id = $1
		LEFT JOIN match_players mp ON mp.match_id = m.id
		WHERE m.canceled_reason IS NULL
		  AND COALESCE(m.scheduled_at, m.created_at) > $2
		  AND COALESCE(m.scheduled_at, m.created_at) < $3
		GROUP BY m.id
		ORDER BY COALESCE(m.scheduled_at, m.created_at), m.id
		LIMIT 1
	`, playerID, windowStart, windowEnd)
	m, err := scanMatch(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, err
	}
	return m, true, nil
}

func (r *MatchRepoI) list(ctx context.Context, query string, args ...any) ([]Match, error) {
	rows, err := r.connector.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const serverColumns = `
	id, name, status, ip, password, rcon, slots, user_id,
	creation_request_at, provisioned_at, destroy_at, destroyed_at`

type ServerRepoI struct{ connector SQLConnector }

func NewServerRepoI(connector SQLConnector) *ServerRepoI {
	return &ServerRepoI{connector: connector}
}

func scanServer(scan func(dest ...any) error) (Server, error) {
	var s Server
	err := scan(
		&s.ID, &s.Name, &s.Status, &s.IP, &s.Password, &s.RCON, &s.Slots, &s.UserID,
		&s.CreationRequestAt, &s.ProvisionedAt, &s.DestroyAt, &s.DestroyedAt,
	)
	if err != nil {
		return Server{}, err
	}
	return s, nil
}

func (r *ServerRepoI) Create(ctx context.Context, s Server) (int64, error) {
	var id int64
	err := r.connector.QueryRowContext(ctx, `
		INSERT INTO servers (name, status, user_id, creation_request_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, s.Name, s.Status, s.UserID, s.CreationRequestAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *ServerRepoI) Read(ctx context.Context, id int64) (Server, error) {
	row := r.connector.QueryRowContext(ctx, `
		SELECT `+serverColumns+`
		FROM servers WHERE id = $1
	`, id)
	return scanServer(row.Scan)
}

// MarkOnline only acts while the row is still creating, which neutralizes
// duplicate status-feed deliveries after a reconnect.
func (r *ServerRepoI) MarkOnline(ctx context.Context, id int64, ip string, password string, rcon string, slots int, provisionedAt string, destroyAt string) (bool, error) {
	res, err := r.connector.ExecContext(ctx, `
		UPDATE servers
		SET ip = $2, password = $3, rcon = $4, slots = $5,
		    provisioned_at = $6, destroy_at = $7, status = 'online'
		WHERE id = $1 AND status = 'creating'
	`, id, ip, password, rcon, slots, provisionedAt, destroyAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ServerRepoI) MarkDestroying(ctx context.Context, id int64) (bool, error) {
	res, err := r.connector.ExecContext(ctx, `
		UPDATE servers SET status = 'destroying'
		WHERE id = $1 AND destroyed_at IS NULL AND status <> 'destroyed'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ServerRepoI) MarkDestroyed(ctx context.Context, id int64, destroyedAt string) error {
	_, err := r.connector.ExecContext(ctx, `
		UPDATE servers SET status = 'destroyed', destroyed_at = $2
		WHERE id = $1
	`, id, destroyedAt)
	return err
}

func (r *ServerRepoI) FindDestroyable(ctx context.Context, now string) ([]Server, error) {
	rows, err := r.connector.QueryContext(ctx, `
		SELECT `+serverColumns+`
		FROM servers
		WHERE destroy_at < $1
		  AND destroyed_at IS NULL
		  AND ip IS NOT NULL
		  AND user_id IS NULL
		ORDER BY id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Server, 0)
	for rows.Next() {
		s, err := scanServer(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type ActivityLogRepoI struct{ connector SQLConnector }

func NewActivityLogRepoI(connector SQLConnector) *ActivityLogRepoI {
	return &ActivityLogRepoI{connector: connector}
}

func (r *ActivityLogRepoI) InsertUserActivity(ctx context.Context, row UserActivityLog) error {
	_, err := r.connector.ExecContext(ctx, `
		INSERT INTO user_activity_log (user_id, username, game, created_at)
		VALUES ($1, $2, $3, $4)
	`, row.UserID, row.Username, row.Game, row.CreatedAt)
	return err
}

func (r *ActivityLogRepoI) ListUserActivity(ctx context.Context) ([]UserActivityLog, error) {
	rows, err := r.connector.QueryContext(ctx, `
		SELECT id, user_id, username, game, created_at
		FROM user_activity_log
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]UserActivityLog, 0)
	for rows.Next() {
		var row UserActivityLog
		if err := rows.Scan(&row.ID, &row.UserID, &row.Username, &row.Game, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ActivityLogRepoI) DeleteUserActivity(ctx context.Context) error {
	_, err := r.connector.ExecContext(ctx, `DELETE FROM user_activity_log`)
	return err
}

func (r *ActivityLogRepoI) InsertProcessed(ctx context.Context, row ProcessedActivityLog) error {
	_, err := r.connector.ExecContext(ctx, `
		INSERT INTO processed_activity_log (online, playing, online_at)
		VALUES ($1, $2, $3)
	`, row.Online, row.Playing, row.OnlineAt)
	return err
}

var _ MatchRepo = (*MatchRepoI)(nil)
var _ ServerRepo = (*ServerRepoI)(nil)
var _ ActivityLogRepo = (*ActivityLogRepoI)(nil)
