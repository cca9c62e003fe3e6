package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
	"github.com/akalitenya/discord-matchmaking/internal/notify"
	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/timefmt"

	"golang.org/x/sync/errgroup"
)

const sweepConcurrency = 4

type Options struct {
	Now      func() time.Time
	RandIntn func(n int) int
}

type ServiceI struct {
	repos      pgsql.Repos
	notifier   notify.Sink
	collisions *CollisionDetector
	servers    ServerLifecycle
	opts       Options
}

func NewServiceI(repos pgsql.Repos, notifier notify.Sink, opts Options) *ServiceI {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RandIntn == nil {
		opts.RandIntn = rand.Intn
	}
	return &ServiceI{
		repos:      repos,
		notifier:   notifier,
		collisions: NewCollisionDetector(repos.Match),
		opts:       opts,
	}
}

// BindServerLifecycle is called once at wiring time; the server service is
// constructed after the match service because it depends on it.
func (s *ServiceI) BindServerLifecycle(servers ServerLifecycle) {
	s.servers = servers
}

func (s *ServiceI) Create(ctx context.Context, spec CreateSpec) (pgsql.Match, error) {
	logger := ilog.Component("match")

	if spec.SidePlayers < MinSidePlayers || spec.SidePlayers > MaxSidePlayers {
		return pgsql.Match{}, &ValidationError{Msg: fmt.Sprintf("side size must be between %d and %d players", MinSidePlayers, MaxSidePlayers)}
	}

	mapName := spec.MapName
	if mapName == "" {
		mapName = Maps[s.opts.RandIntn(len(Maps))]
	} else if !knownMap(mapName) {
		return pgsql.Match{}, &ValidationError{Msg: fmt.Sprintf("unknown map %q", mapName)}
	}

	now := s.opts.Now().UTC()
	effective := now
	var scheduledAt sql.NullString
	if spec.ScheduledAt != nil {
		at := spec.ScheduledAt.UTC()
		if !at.After(now) {
			return pgsql.Match{}, &ValidationError{Msg: "scheduled time must be in the future"}
		}
		if at.After(now.AddDate(0, MaxScheduleAhead, 0)) {
			return pgsql.Match{}, &ValidationError{Msg: fmt.Sprintf("scheduled time must be within %d months", MaxScheduleAhead)}
		}
		effective = at
		scheduledAt = timefmt.FormatNull(at)
	}

	if colliding, found, err := s.collisions.Find(ctx, spec.CreatorID, effective); err != nil {
		return pgsql.Match{}, fmt.Errorf("collision check failed: %w", err)
	} else if found {
		return pgsql.Match{}, &CollisionError{MatchID: colliding.ID, EffectiveAt: colliding.EffectiveAt()}
	}

	nowStr := timefmt.Format(now)
	id, err := s.repos.Match.Create(ctx, pgsql.Match{
		ChannelID:      spec.ChannelID,
		CreatorID:      spec.CreatorID,
		MaxPlayers:     spec.SidePlayers * 2,
		Maps:           mapName,
		ScheduledAt:    scheduledAt,
		CreatedAt:      nowStr,
		LastActivityAt: nowStr,
	})
	if err != nil {
		return pgsql.Match{}, fmt.Errorf("insert match failed: %w", err)
	}
	if err := s.repos.Match.AddPlayer(ctx, id, spec.CreatorID, nowStr); err != nil {
		return pgsql.Match{}, fmt.Errorf("add creator to match %d failed: %w", id, err)
	}

	logger.Infof("match created id=%d creator=%s map=%s scheduled=%v", id, spec.CreatorID, mapName, spec.ScheduledAt != nil)
	return s.Get(ctx, id)
}

func (s *ServiceI) Join(ctx context.Context, matchID int64, playerID string) (pgsql.Match, error) {
	logger := ilog.Component("match")

	m, err := s.Get(ctx, matchID)
	if err != nil {
		return pgsql.Match{}, err
	}
	if m.IsCanceled() {
		return pgsql.Match{}, &ValidationError{Msg: "match is canceled"}
	}
	if m.HasPlayer(playerID) {
		return pgsql.Match{}, &ValidationError{Msg: "player already joined"}
	}
	if m.IsFull() {
		return pgsql.Match{}, &ValidationError{Msg: "match is full"}
	}

	effective, err := timefmt.Parse(m.EffectiveAt())
	if err != nil {
		return pgsql.Match{}, fmt.Errorf("match %d has malformed effective time: %w", matchID, err)
	}
	if colliding, found, err := s.collisions.Find(ctx, playerID, effective); err != nil {
		return pgsql.Match{}, fmt.Errorf("collision check failed: %w", err)
	} else if found {
		return pgsql.Match{}, &CollisionError{MatchID: colliding.ID, EffectiveAt: colliding.EffectiveAt()}
	}

	nowStr := timefmt.Format(s.opts.Now().UTC())
	if err := s.repos.Match.AddPlayer(ctx, matchID, playerID, nowStr); err != nil {
		return pgsql.Match{}, fmt.Errorf("add player to match %d failed: %w", matchID, err)
	}
	if err := s.repos.Match.TouchActivity(ctx, matchID, nowStr); err != nil {
		return pgsql.Match{}, fmt.Errorf("touch match %d failed: %w", matchID, err)
	}

	m, err = s.Get(ctx, matchID)
	if err != nil {
		return pgsql.Match{}, err
	}
	logger.Infof("player joined match=%d player=%s fill=%d/%d", matchID, playerID, len(m.Players), m.MaxPlayers)

	// An immediate match starts as soon as it fills up.
	if m.IsFull() && !m.IsScheduled() && !m.HasServer() && s.servers != nil {
		if err := s.servers.CreateForMatch(ctx, m); err != nil {
			return m, &ProvisionError{MatchID: matchID, Err: err}
		}
	}
	return m, nil
}

func (s *ServiceI) Leave(ctx context.Context, matchID int64, playerID string) error {
	logger := ilog.Component("match")

	m, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if m.IsCanceled() {
		return &ValidationError{Msg: "match is canceled"}
	}
	if !m.HasPlayer(playerID) {
		return &ValidationError{Msg: "player is not in this match"}
	}

	if err := s.repos.Match.RemovePlayer(ctx, matchID, playerID); err != nil {
		return fmt.Errorf("remove player from match %d failed: %w", matchID, err)
	}
	nowStr := timefmt.Format(s.opts.Now().UTC())
	if err := s.repos.Match.TouchActivity(ctx, matchID, nowStr); err != nil {
		return fmt.Errorf("touch match %d failed: %w", matchID, err)
	}
	logger.Infof("player left match=%d player=%s", matchID, playerID)

	if len(m.Players) == 1 {
		return s.Cancel(ctx, matchID, ReasonDeserted)
	}
	return nil
}

// Cancel is idempotent: only the call that flips canceled_reason sends the
// notification and tears down the server.
func (s *ServiceI) Cancel(ctx context.Context, matchID int64, reason RemovalReason) error {
	logger := ilog.Component("match")

	m, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}

	won, err := s.repos.Match.SetCanceled(ctx, matchID, string(reason))
	if err != nil {
		return fmt.Errorf("cancel match %d failed: %w", matchID, err)
	}
	if !won {
		logger.Debugf("match %d already canceled, skipping", matchID)
		return nil
	}
	logger.Infof("match canceled id=%d reason=%s", matchID, reason)

	if s.notifier != nil {
		msg := fmt.Sprintf("Match %d was canceled (%s).", matchID, reason)
		if err := s.notifier.SendToChannel(ctx, m.ChannelID, msg); err != nil {
			logger.Errorf("cancel notification for match %d failed: %v", matchID, err)
		}
	}

	if m.HasServer() && s.servers != nil {
		if err := s.servers.Destroy(ctx, m.ServerID.Int64); err != nil {
			logger.Errorf("teardown of server %d for match %d failed: %v", m.ServerID.Int64, matchID, err)
		}
	}
	return nil
}

func (s *ServiceI) Get(ctx context.Context, matchID int64) (pgsql.Match, error) {
	m, err := s.repos.Match.Read(ctx, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return pgsql.Match{}, &ValidationError{Msg: fmt.Sprintf("match %d not found", matchID)}
	}
	if err != nil {
		return pgsql.Match{}, fmt.Errorf("read match %d failed: %w", matchID, err)
	}
	return m, nil
}

func (s *ServiceI) CancelInactive(ctx context.Context) error {
	logger := ilog.Component("match")

	cutoff := timefmt.Format(s.opts.Now().UTC().Add(-InactivityCutoff))
	list, err := s.repos.Match.FindInactiveUnscheduled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list inactive matches failed: %w", err)
	}
	if len(list) == 0 {
		return nil
	}
	logger.Infof("sweeping %d inactive matches", len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, m := range list {
		m := m
		g.Go(func() error {
			if err := s.Cancel(gctx, m.ID, ReasonInactivity); err != nil {
				logger.Errorf("inactivity cancel of match %d failed: %v", m.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *ServiceI) CancelUnfulfilledScheduled(ctx context.Context) error {
	logger := ilog.Component("match")

	nowStr := timefmt.Format(s.opts.Now().UTC())
	list, err := s.repos.Match.FindUnfulfilledScheduled(ctx, nowStr)
	if err != nil {
		return fmt.Errorf("list overdue scheduled matches failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, m := range list {
		if m.IsFull() {
			// Filled but not provisioned yet; the provisioning sweep owns it.
			continue
		}
		m := m
		g.Go(func() error {
			if err := s.Cancel(gctx, m.ID, ReasonUnfulfilled); err != nil {
				logger.Errorf("unfulfilled cancel of match %d failed: %v", m.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *ServiceI) ProvisionReady(ctx context.Context) error {
	logger := ilog.Component("match")
	if s.servers == nil {
		return fmt.Errorf("server lifecycle is not bound")
	}

	cutoff := timefmt.Format(s.opts.Now().UTC().Add(-ProvisionLookahead))
	list, err := s.repos.Match.FindProvisionReady(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list provision-ready matches failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, m := range list {
		if !m.IsFull() {
			continue
		}
		m := m
		g.Go(func() error {
			if err := s.servers.CreateForMatch(gctx, m); err != nil {
				logger.Errorf("provision for match %d failed: %v", m.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func knownMap(name string) bool {
	for _, m := range Maps {
		if m == name {
			return true
		}
	}
	return false
}

var _ Service = (*ServiceI)(nil)
