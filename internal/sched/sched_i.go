package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
	"github.com/akalitenya/discord-matchmaking/internal/match"
	"github.com/akalitenya/discord-matchmaking/internal/notify"
	"github.com/akalitenya/discord-matchmaking/internal/probe"
	"github.com/akalitenya/discord-matchmaking/internal/server"

	"github.com/go-co-op/gocron/v2"
)

const (
	DefaultSweepInterval     = time.Minute
	DefaultActivityInterval  = 3 * time.Minute
	DefaultMonitorInterval   = 15 * time.Minute
	DefaultAggregateInterval = 24 * time.Hour

	// A public server is worth a ping when this many players are on.
	DefaultPublicBusyThreshold = 14

	// Minimum quiet time between two notices about the same public server.
	publicNoticeInterval = time.Hour
)

// ActivityLogger is the slice of the activity service the scheduler drives.
type ActivityLogger interface {
	LogOnlineUsers(ctx context.Context) error
	AggregateDaily(ctx context.Context) error
}

type Options struct {
	SweepInterval     time.Duration
	ActivityInterval  time.Duration
	MonitorInterval   time.Duration
	AggregateInterval time.Duration

	PublicServers       []string
	NotifyChannelID     string
	PublicBusyThreshold int

	Now func() time.Time
}

type Scheduler struct {
	cron     gocron.Scheduler
	matches  match.Service
	servers  server.Service
	activity ActivityLogger
	prober   probe.Prober
	notifier notify.Sink
	opts     Options

	mu               sync.Mutex
	lastPublicNotice map[string]time.Time
}

func NewScheduler(matches match.Service, servers server.Service, activity ActivityLogger, prober probe.Prober, notifier notify.Sink, opts Options) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler failed: %w", err)
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.ActivityInterval <= 0 {
		opts.ActivityInterval = DefaultActivityInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.AggregateInterval <= 0 {
		opts.AggregateInterval = DefaultAggregateInterval
	}
	if opts.PublicBusyThreshold <= 0 {
		opts.PublicBusyThreshold = DefaultPublicBusyThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		cron:             cron,
		matches:          matches,
		servers:          servers,
		activity:         activity,
		prober:           prober,
		notifier:         notifier,
		opts:             opts,
		lastPublicNotice: make(map[string]time.Time),
	}, nil
}

func (s *Scheduler) Start() error {
	logger := ilog.Component("sched")

	if _, err := s.cron.NewJob(
		gocron.DurationJob(s.opts.SweepInterval),
		gocron.NewTask(func() { s.runReconcileOnce(context.Background()) }),
	); err != nil {
		return fmt.Errorf("register reconcile job failed: %w", err)
	}

	if s.activity != nil {
		if _, err := s.cron.NewJob(
			gocron.DurationJob(s.opts.ActivityInterval),
			gocron.NewTask(func() {
				if err := s.activity.LogOnlineUsers(context.Background()); err != nil {
					logger.Errorf("activity logging failed: %v", err)
				}
			}),
		); err != nil {
			return fmt.Errorf("register activity job failed: %w", err)
		}

		if _, err := s.cron.NewJob(
			gocron.DurationJob(s.opts.AggregateInterval),
			gocron.NewTask(func() {
				if err := s.activity.AggregateDaily(context.Background()); err != nil {
					logger.Errorf("activity aggregation failed: %v", err)
				}
			}),
		); err != nil {
			return fmt.Errorf("register aggregation job failed: %w", err)
		}
	}

	if len(s.opts.PublicServers) > 0 && s.notifier != nil {
		if _, err := s.cron.NewJob(
			gocron.DurationJob(s.opts.MonitorInterval),
			gocron.NewTask(func() { s.monitorPublicServers(context.Background()) }),
		); err != nil {
			return fmt.Errorf("register public monitor job failed: %w", err)
		}
	}

	s.cron.Start()
	logger.Infof("scheduler started sweep=%s activity=%s monitor=%s", s.opts.SweepInterval, s.opts.ActivityInterval, s.opts.MonitorInterval)
	return nil
}

func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// runReconcileOnce drives one tick; a failing task never blocks the others.
func (s *Scheduler) runReconcileOnce(ctx context.Context) {
	logger := ilog.Component("sched")

	tasks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"cancel_inactive", s.matches.CancelInactive},
		{"cancel_unfulfilled_scheduled", s.matches.CancelUnfulfilledScheduled},
		{"provision_ready", s.matches.ProvisionReady},
		{"destroy_expired", s.servers.DestroyExpired},
	}
	for _, task := range tasks {
		if err := task.fn(ctx); err != nil {
			logger.Errorf("reconcile task %s failed: %v", task.name, err)
		}
	}
}

func (s *Scheduler) monitorPublicServers(ctx context.Context) {
	logger := ilog.Component("sched")

	for _, addr := range s.opts.PublicServers {
		count, err := s.prober.QueryPlayers(ctx, addr)
		if err != nil {
			logger.Warnf("probe of public server %s failed: %v", addr, err)
			continue
		}
		if count < s.opts.PublicBusyThreshold {
			continue
		}
		if !s.shouldNotify(addr) {
			logger.Debugf("public server %s busy but notice rate limited", addr)
			continue
		}

		msg := fmt.Sprintf("%s is heating up: %d players online!", addr, count)
		if err := s.notifier.SendToChannel(ctx, s.opts.NotifyChannelID, msg); err != nil {
			logger.Errorf("public server notice for %s failed: %v", addr, err)
			continue
		}
		s.markNotified(addr)
	}
}

func (s *Scheduler) shouldNotify(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastPublicNotice[addr]
	return !ok || s.opts.Now().Sub(last) >= publicNoticeInterval
}

func (s *Scheduler) markNotified(addr string) {
	s.mu.Lock()
	s.lastPublicNotice[addr] = s.opts.Now()
	s.mu.Unlock()
}
