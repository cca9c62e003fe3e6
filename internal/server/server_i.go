package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akalitenya/discord-matchmaking/internal/gateway"
	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
	"github.com/akalitenya/discord-matchmaking/internal/match"
	"github.com/akalitenya/discord-matchmaking/internal/notify"
	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/probe"
	"github.com/akalitenya/discord-matchmaking/internal/statusfeed"
	"github.com/akalitenya/discord-matchmaking/internal/timefmt"

	"golang.org/x/sync/errgroup"
)

const sweepConcurrency = 4

type Options struct {
	Environment string
	Now         func() time.Time
}

type ServiceI struct {
	repos    pgsql.Repos
	gw       gateway.Gateway
	feed     statusfeed.Feed
	prober   probe.Prober
	notifier notify.Sink
	matches  Canceler
	opts     Options

	mu   sync.Mutex
	subs map[statusfeed.Subscription]struct{}
}

func NewServiceI(repos pgsql.Repos, gw gateway.Gateway, feed statusfeed.Feed, prober probe.Prober, notifier notify.Sink, matches Canceler, opts Options) *ServiceI {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ServiceI{
		repos:    repos,
		gw:       gw,
		feed:     feed,
		prober:   prober,
		notifier: notifier,
		matches:  matches,
		opts:     opts,
		subs:     make(map[statusfeed.Subscription]struct{}),
	}
}

// CreateForMatch requests a fleet server for a full match. A nil return
// means the request was accepted; readiness lands later via the status feed.
func (s *ServiceI) CreateForMatch(ctx context.Context, m pgsql.Match) error {
	logger := ilog.Component("server")

	if m.HasServer() {
		logger.Debugf("match %d already has server %d, skipping", m.ID, m.ServerID.Int64)
		return nil
	}
	if m.IsCanceled() {
		logger.Debugf("match %d is canceled, skipping provisioning", m.ID)
		return nil
	}

	name := NameForMatch(s.opts.Environment, m.ID)
	nowStr := timefmt.Format(s.opts.Now().UTC())

	serverID, err := s.repos.Server.Create(ctx, pgsql.Server{
		Name:              name,
		Status:            StatusCreating,
		CreationRequestAt: nowStr,
	})
	if err != nil {
		return fmt.Errorf("insert server row for match %d failed: %w", m.ID, err)
	}
	if err := s.repos.Match.AssignServer(ctx, m.ID, serverID); err != nil {
		return fmt.Errorf("assign server %d to match %d failed: %w", serverID, m.ID, err)
	}

	// Watch before asking the gateway so a fast provision cannot slip
	// between the request and the subscription.
	sub, err := s.feed.Watch(context.Background(), statusfeed.Filter{Name: name, Status: StatusOnline})
	if err != nil {
		return fmt.Errorf("watch status feed for %s failed: %w", name, err)
	}
	s.trackSub(sub)

	spec := gateway.CreateSpec{
		MatchID: m.ID,
		Maps:    m.MapList(),
		Slots:   m.MaxPlayers + ExtraSlots,
	}
	if err := s.gw.Create(ctx, name, spec); err != nil {
		s.dropSub(sub)
		sub.Cancel()
		return fmt.Errorf("gateway create for match %d failed: %w", m.ID, err)
	}

	logger.Infof("server requested match=%d server=%d name=%s slots=%d", m.ID, serverID, name, spec.Slots)
	go s.awaitOnline(sub, serverID, name)
	return nil
}

func (s *ServiceI) awaitOnline(sub statusfeed.Subscription, serverID int64, name string) {
	logger := ilog.Component("server")
	defer s.dropSub(sub)
	defer sub.Cancel()

	ev, ok := <-sub.Events()
	if !ok {
		logger.Warnf("status watch for %s closed without an online event", name)
		return
	}
	s.applyOnline(context.Background(), serverID, ev)
}

func (s *ServiceI) applyOnline(ctx context.Context, serverID int64, ev statusfeed.Event) {
	logger := ilog.Component("server")

	now := s.opts.Now().UTC()
	won, err := s.repos.Server.MarkOnline(ctx, serverID,
		ev.IP, ev.Password, ev.RCON, ev.Slots,
		timefmt.Format(now), timefmt.Format(now.Add(DestroyTTL)))
	if err != nil {
		logger.Errorf("mark server %d online failed: %v", serverID, err)
		return
	}
	if !won {
		logger.Debugf("server %d is not creating anymore, ignoring status event", serverID)
		return
	}
	logger.Infof("server online id=%d name=%s ip=%s", serverID, ev.Name, ev.IP)

	m, err := s.repos.Match.ReadByServer(ctx, serverID)
	if err != nil {
		logger.Errorf("read match for server %d failed: %v", serverID, err)
		return
	}
	if s.notifier != nil {
		msg := fmt.Sprintf("Server for match %d is up!\nIP: %s\nPassword: %s", m.ID, ev.IP, ev.Password)
		if err := s.notifier.SendToChannel(ctx, m.ChannelID, msg); err != nil {
			logger.Errorf("online notification for match %d failed: %v", m.ID, err)
		}
	}
}

// Destroy tears a server down. Once a row is destroyed the gateway is never
// contacted for it again; a failed gateway call leaves the row destroying so
// the next sweep retries.
func (s *ServiceI) Destroy(ctx context.Context, serverID int64) error {
	logger := ilog.Component("server")

	srv, err := s.repos.Server.Read(ctx, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Warnf("destroy requested for unknown server %d", serverID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read server %d failed: %w", serverID, err)
	}
	if srv.Status == StatusDestroyed {
		return nil
	}

	won, err := s.repos.Server.MarkDestroying(ctx, serverID)
	if err != nil {
		return fmt.Errorf("mark server %d destroying failed: %w", serverID, err)
	}
	if !won {
		logger.Debugf("server %d already destroyed, skipping", serverID)
		return nil
	}

	if err := s.gw.Destroy(ctx, srv.Name); err != nil {
		logger.Errorf("gateway destroy for server %d (%s) failed: %v", serverID, srv.Name, err)
		return err
	}

	if err := s.repos.Server.MarkDestroyed(ctx, serverID, timefmt.Format(s.opts.Now().UTC())); err != nil {
		return fmt.Errorf("mark server %d destroyed failed: %w", serverID, err)
	}
	logger.Infof("server destroyed id=%d name=%s", serverID, srv.Name)
	return nil
}

// DestroyExpired sweeps servers past their destroy_at. A populated or
// unreachable server is left alone until the next pass.
func (s *ServiceI) DestroyExpired(ctx context.Context) error {
	logger := ilog.Component("server")

	list, err := s.repos.Server.FindDestroyable(ctx, timefmt.Format(s.opts.Now().UTC()))
	if err != nil {
		return fmt.Errorf("list destroyable servers failed: %w", err)
	}
	if len(list) == 0 {
		return nil
	}
	logger.Infof("sweeping %d expired servers", len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, srv := range list {
		srv := srv
		g.Go(func() error {
			count, err := s.prober.QueryPlayers(gctx, srv.IP.String)
			if err != nil {
				logger.Warnf("probe of server %d (%s) failed, treating as occupied: %v", srv.ID, srv.IP.String, err)
				return nil
			}
			if count > 0 {
				logger.Debugf("server %d still has %d players, skipping", srv.ID, count)
				return nil
			}

			m, err := s.repos.Match.ReadByServer(gctx, srv.ID)
			if errors.Is(err, sql.ErrNoRows) {
				if err := s.Destroy(gctx, srv.ID); err != nil {
					logger.Errorf("teardown of orphan server %d failed: %v", srv.ID, err)
				}
				return nil
			}
			if err != nil {
				logger.Errorf("read match for server %d failed: %v", srv.ID, err)
				return nil
			}
			if err := s.matches.Cancel(gctx, m.ID, match.ReasonEnded); err != nil {
				logger.Errorf("end of match %d failed: %v", m.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close cancels every in-flight status watch.
func (s *ServiceI) Close() {
	s.mu.Lock()
	subs := make([]statusfeed.Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func (s *ServiceI) trackSub(sub statusfeed.Subscription) {
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
}

func (s *ServiceI) dropSub(sub statusfeed.Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

var _ Service = (*ServiceI)(nil)
var _ match.ServerLifecycle = (*ServiceI)(nil)
