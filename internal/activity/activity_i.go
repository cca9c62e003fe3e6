package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/timefmt"
)

// WidgetSource reads presence from the Discord guild widget endpoint.
type WidgetSource struct {
	baseURL *url.URL
	client  *http.Client
	guildID string
}

type widgetResponse struct {
	Members []widgetMember `json:"members"`
}

type widgetMember struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Game     *struct {
		Name string `json:"name"`
	} `json:"game"`
}

func NewWidgetSource(baseURL string, guildID string, timeout time.Duration) (*WidgetSource, error) {
	normalized := strings.TrimSpace(baseURL)
	if normalized == "" {
		return nil, fmt.Errorf("widget base url is required")
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid widget url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid widget url, need scheme and host: %s", normalized)
	}
	if strings.TrimSpace(guildID) == "" {
		return nil, fmt.Errorf("guild id is required")
	}

	clientTimeout := timeout
	if clientTimeout <= 0 {
		clientTimeout = 10 * time.Second
	}
	return &WidgetSource{
		baseURL: u,
		client:  &http.Client{Timeout: clientTimeout},
		guildID: guildID,
	}, nil
}

func (w *WidgetSource) OnlineUsers(ctx context.Context) ([]PresenceUser, error) {
	endpoint := w.baseURL.ResolveReference(&url.URL{
		Path: strings.TrimSuffix(w.baseURL.Path, "/") + "/guilds/" + w.guildID + "/widget.json",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build widget request failed: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("widget request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("widget request rejected status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed widgetResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode widget response failed: %w", err)
	}

	users := make([]PresenceUser, 0, len(parsed.Members))
	for _, member := range parsed.Members {
		u := PresenceUser{ID: member.ID, Username: member.Username}
		if member.Game != nil {
			u.Game = member.Game.Name
		}
		users = append(users, u)
	}
	return users, nil
}

type Options struct {
	Now func() time.Time
}

type ServiceI struct {
	repos  pgsql.Repos
	source PresenceSource
	opts   Options
}

func NewServiceI(repos pgsql.Repos, source PresenceSource, opts Options) *ServiceI {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ServiceI{repos: repos, source: source, opts: opts}
}

func (s *ServiceI) LogOnlineUsers(ctx context.Context) error {
	logger := ilog.Component("activity")

	users, err := s.source.OnlineUsers(ctx)
	if err != nil {
		return fmt.Errorf("list online users failed: %w", err)
	}

	nowStr := timefmt.Format(s.opts.Now().UTC())
	for _, u := range users {
		row := pgsql.UserActivityLog{
			UserID:    u.ID,
			Username:  u.Username,
			CreatedAt: nowStr,
		}
		if u.Game != "" {
			row.Game = sql.NullString{String: u.Game, Valid: true}
		}
		if err := s.repos.ActivityLog.InsertUserActivity(ctx, row); err != nil {
			return fmt.Errorf("insert activity for user %s failed: %w", u.ID, err)
		}
	}
	logger.Debugf("logged %d online users", len(users))
	return nil
}

// AggregateDaily folds the raw presence log into one row per hour and clears
// the raw log only when every hour landed.
func (s *ServiceI) AggregateDaily(ctx context.Context) error {
	logger := ilog.Component("activity")

	raw, err := s.repos.ActivityLog.ListUserActivity(ctx)
	if err != nil {
		return fmt.Errorf("list activity log failed: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	type hourBucket struct {
		online  map[string]struct{}
		playing map[string]struct{}
	}
	buckets := make(map[string]*hourBucket)
	for _, row := range raw {
		hour, err := timefmt.Hour(row.CreatedAt)
		if err != nil {
			logger.Warnf("skipping activity row %d with bad timestamp %q: %v", row.ID, row.CreatedAt, err)
			continue
		}
		b := buckets[hour]
		if b == nil {
			b = &hourBucket{online: make(map[string]struct{}), playing: make(map[string]struct{})}
			buckets[hour] = b
		}
		// Disjoint columns: a row with a game counts as playing,
		// a row without one as merely online.
		if row.Game.Valid && row.Game.String != "" {
			b.playing[row.UserID] = struct{}{}
		} else {
			b.online[row.UserID] = struct{}{}
		}
	}

	hours := make([]string, 0, len(buckets))
	for hour := range buckets {
		hours = append(hours, hour)
	}
	sort.Strings(hours)

	for _, hour := range hours {
		b := buckets[hour]
		row := pgsql.ProcessedActivityLog{
			Online:   joinIDs(b.online),
			Playing:  joinIDs(b.playing),
			OnlineAt: hour,
		}
		if err := s.repos.ActivityLog.InsertProcessed(ctx, row); err != nil {
			return fmt.Errorf("insert processed activity for %s failed: %w", hour, err)
		}
	}

	if err := s.repos.ActivityLog.DeleteUserActivity(ctx); err != nil {
		return fmt.Errorf("clear activity log failed: %w", err)
	}
	logger.Infof("aggregated %d raw rows into %d hours", len(raw), len(hours))
	return nil
}

func joinIDs(set map[string]struct{}) string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

var _ PresenceSource = (*WidgetSource)(nil)
var _ Service = (*ServiceI)(nil)
