package match

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/timefmt"
)

type matchRepoMock struct {
	createFn                   func(ctx context.Context, m pgsql.Match) (int64, error)
	readFn                     func(ctx context.Context, id int64) (pgsql.Match, error)
	readByServerFn             func(ctx context.Context, serverID int64) (pgsql.Match, error)
	addPlayerFn                func(ctx context.Context, matchID int64, playerID string, now string) error
	removePlayerFn             func(ctx context.Context, matchID int64, playerID string) error
	touchActivityFn            func(ctx context.Context, matchID int64, now string) error
	assignServerFn             func(ctx context.Context, matchID int64, serverID int64) error
	setCanceledFn              func(ctx context.Context, matchID int64, reason string) (bool, error)
	findInactiveUnscheduledFn  func(ctx context.Context, cutoff string) ([]pgsql.Match, error)
	findUnfulfilledScheduledFn func(ctx context.Context, now string) ([]pgsql.Match, error)
	findProvisionReadyFn       func(ctx context.Context, cutoff string) ([]pgsql.Match, error)
	findCollidingFn            func(ctx context.Context, playerID string, windowStart string, windowEnd string) (pgsql.Match, bool, error)
}

func (m *matchRepoMock) Create(ctx context.Context, row pgsql.Match) (int64, error) {
	if m.createFn != nil {
		return m.createFn(ctx, row)
	}
	return 1, nil
}

func (m *matchRepoMock) Read(ctx context.Context, id int64) (pgsql.Match, error) {
	if m.readFn != nil {
		return m.readFn(ctx, id)
	}
	return pgsql.Match{}, sql.ErrNoRows
}

func (m *matchRepoMock) ReadByServer(ctx context.Context, serverID int64) (pgsql.Match, error) {
	if m.readByServerFn != nil {
		return m.readByServerFn(ctx, serverID)
	}
	return pgsql.Match{}, sql.ErrNoRows
}

func (m *matchRepoMock) AddPlayer(ctx context.Context, matchID int64, playerID string, now string) error {
	if m.addPlayerFn != nil {
		return m.addPlayerFn(ctx, matchID, playerID, now)
	}
	return nil
}

func (m *matchRepoMock) RemovePlayer(ctx context.Context, matchID int64, playerID string) error {
	if m.removePlayerFn != nil {
		return m.removePlayerFn(ctx, matchID, playerID)
	}
	return nil
}

func (m *matchRepoMock) TouchActivity(ctx context.Context, matchID int64, now string) error {
	if m.touchActivityFn != nil {
		return m.touchActivityFn(ctx, matchID, now)
	}
	return nil
}

func (m *matchRepoMock) AssignServer(ctx context.Context, matchID int64, serverID int64) error {
	if m.assignServerFn != nil {
		return m.assignServerFn(ctx, matchID, serverID)
	}
	return nil
}

func (m *matchRepoMock) SetCanceled(ctx context.Context, matchID int64, reason string) (bool, error) {
	if m.setCanceledFn != nil {
		return m.setCanceledFn(ctx, matchID, reason)
	}
	return true, nil
}

func (m *matchRepoMock) FindInactiveUnscheduled(ctx context.Context, cutoff string) ([]pgsql.Match, error) {
	if m.findInactiveUnscheduledFn != nil {
		return m.findInactiveUnscheduledFn(ctx, cutoff)
	}
	return nil, nil
}

func (m *matchRepoMock) FindUnfulfilledScheduled(ctx context.Context, now string) ([]pgsql.Match, error) {
	if m.findUnfulfilledScheduledFn != nil {
		return m.findUnfulfilledScheduledFn(ctx, now)
	}
	return nil, nil
}

func (m *matchRepoMock) FindProvisionReady(ctx context.Context, cutoff string) ([]pgsql.Match, error) {
	if m.findProvisionReadyFn != nil {
		return m.findProvisionReadyFn(ctx, cutoff)
	}
	return nil, nil
}

func (m *matchRepoMock) FindColliding(ctx context.Context, playerID string, windowStart string, windowEnd string) (pgsql.Match, bool, error) {
	if m.findCollidingFn != nil {
		return m.findCollidingFn(ctx, playerID, windowStart, windowEnd)
	}
	return pgsql.Match{}, false, nil
}

type lifecycleMock struct {
	createForMatchFn func(ctx context.Context, m pgsql.Match) error
	destroyFn        func(ctx context.Context, serverID int64) error
}

func (l *lifecycleMock) CreateForMatch(ctx context.Context, m pgsql.Match) error {
	if l.createForMatchFn != nil {
		return l.createForMatchFn(ctx, m)
	}
	return nil
}

func (l *lifecycleMock) Destroy(ctx context.Context, serverID int64) error {
	if l.destroyFn != nil {
		return l.destroyFn(ctx, serverID)
	}
	return nil
}

type sinkMock struct {
	sent []string
}

func (s *sinkMock) SendToChannel(ctx context.Context, channelID string, content string) error {
	s.sent = append(s.sent, channelID+": "+content)
	return nil
}

func (s *sinkMock) ReplyTo(ctx context.Context, requestID string, content string) error {
	s.sent = append(s.sent, requestID+": "+content)
	return nil
}

var fixedNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestService(repo *matchRepoMock, sink *sinkMock) *ServiceI {
	return NewServiceI(pgsql.Repos{Match: repo}, sink, Options{
		Now:      func() time.Time { return fixedNow },
		RandIntn: func(n int) int { return 0 },
	})
}

func TestCreate_SideSizeValidation(t *testing.T) {
	svc := newTestService(&matchRepoMock{}, &sinkMock{})
	for _, side := range []int{0, 11, -1} {
		_, err := svc.Create(context.Background(), CreateSpec{ChannelID: "c", CreatorID: "u", SidePlayers: side})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("side=%d: expected validation error, got %v", side, err)
		}
	}
}

func TestCreate_ScheduleValidation(t *testing.T) {
	svc := newTestService(&matchRepoMock{}, &sinkMock{})

	past := fixedNow.Add(-time.Hour)
	_, err := svc.Create(context.Background(), CreateSpec{ChannelID: "c", CreatorID: "u", SidePlayers: 2, ScheduledAt: &past})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("past schedule: expected validation error, got %v", err)
	}

	tooFar := fixedNow.AddDate(0, 3, 0)
	_, err = svc.Create(context.Background(), CreateSpec{ChannelID: "c", CreatorID: "u", SidePlayers: 2, ScheduledAt: &tooFar})
	if !errors.As(err, &verr) {
		t.Fatalf("far schedule: expected validation error, got %v", err)
	}
}

func TestCreate_UnknownMap(t *testing.T) {
	svc := newTestService(&matchRepoMock{}, &sinkMock{})
	_, err := svc.Create(context.Background(), CreateSpec{ChannelID: "c", CreatorID: "u", SidePlayers: 2, MapName: "mp_nuketown"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_Collision(t *testing.T) {
	repo := &matchRepoMock{
		findCollidingFn: func(ctx context.Context, playerID string, windowStart string, windowEnd string) (pgsql.Match, bool, error) {
			return pgsql.Match{ID: 7, CreatedAt: "2026-01-10 11:30:00"}, true, nil
		},
	}
	svc := newTestService(repo, &sinkMock{})
	_, err := svc.Create(context.Background(), CreateSpec{ChannelID: "c", CreatorID: "u", SidePlayers: 2})
	var cerr *CollisionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected collision error, got %v", err)
	}
	if cerr.MatchID != 7 {
		t.Fatalf("collision match id = %d, want 7", cerr.MatchID)
	}
}

func TestCreate_DefaultsAndCreatorJoin(t *testing.T) {
	var inserted pgsql.Match
	var addedPlayer string
	repo := &matchRepoMock{
		createFn: func(ctx context.Context, m pgsql.Match) (int64, error) {
			inserted = m
			return 11, nil
		},
		addPlayerFn: func(ctx context.Context, matchID int64, playerID string, now string) error {
			addedPlayer = playerID
			return nil
		},
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			inserted.ID = id
			inserted.Players = []string{"u"}
			return inserted, nil
		},
	}
	svc := newTestService(repo, &sinkMock{})

	m, err := svc.Create(context.Background(), CreateSpec{ChannelID: "c", CreatorID: "u", SidePlayers: 3})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if m.MaxPlayers != 6 {
		t.Fatalf("max players = %d, want 6", m.MaxPlayers)
	}
	if inserted.Maps != Maps[0] {
		t.Fatalf("map = %q, want random pick %q", inserted.Maps, Maps[0])
	}
	if inserted.CreatedAt != timefmt.Format(fixedNow) {
		t.Fatalf("created_at = %q", inserted.CreatedAt)
	}
	if addedPlayer != "u" {
		t.Fatalf("creator was not added as player")
	}
}

func TestJoin_FillTriggersProvisioning(t *testing.T) {
	players := []string{"a", "b", "c"}
	repo := &matchRepoMock{
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			return pgsql.Match{
				ID: 5, ChannelID: "c", MaxPlayers: 4, Maps: "mp_harbor",
				CreatedAt: "2026-01-10 11:50:00", LastActivityAt: "2026-01-10 11:50:00",
				Players: players,
			}, nil
		},
		addPlayerFn: func(ctx context.Context, matchID int64, playerID string, now string) error {
			players = append(players, playerID)
			return nil
		},
	}
	var provisioned int64
	lifecycle := &lifecycleMock{
		createForMatchFn: func(ctx context.Context, m pgsql.Match) error {
			provisioned = m.ID
			return nil
		},
	}
	svc := newTestService(repo, &sinkMock{})
	svc.BindServerLifecycle(lifecycle)

	m, err := svc.Join(context.Background(), 5, "d")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !m.IsFull() {
		t.Fatalf("match should be full after join")
	}
	if provisioned != 5 {
		t.Fatalf("provisioning was not triggered for match 5")
	}
}

func TestJoin_ProvisioningFailureIsTyped(t *testing.T) {
	players := []string{"a", "b", "c"}
	repo := &matchRepoMock{
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			return pgsql.Match{
				ID: 5, ChannelID: "c", MaxPlayers: 4, Maps: "mp_harbor",
				CreatedAt: "2026-01-10 11:50:00", LastActivityAt: "2026-01-10 11:50:00",
				Players: players,
			}, nil
		},
		addPlayerFn: func(ctx context.Context, matchID int64, playerID string, now string) error {
			players = append(players, playerID)
			return nil
		},
	}
	lifecycle := &lifecycleMock{
		createForMatchFn: func(ctx context.Context, m pgsql.Match) error {
			return errors.New("gateway create rejected")
		},
	}
	svc := newTestService(repo, &sinkMock{})
	svc.BindServerLifecycle(lifecycle)

	m, err := svc.Join(context.Background(), 5, "d")
	var perr *ProvisionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provision error, got %v", err)
	}
	if perr.MatchID != 5 {
		t.Fatalf("provision error match id = %d, want 5", perr.MatchID)
	}
	if !m.IsFull() {
		t.Fatalf("join must land even when provisioning fails")
	}
}

func TestJoin_Rejections(t *testing.T) {
	repo := &matchRepoMock{
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			switch id {
			case 1:
				return pgsql.Match{ID: 1, MaxPlayers: 2, Players: []string{"a", "b"}, CreatedAt: "2026-01-10 11:00:00"}, nil
			case 2:
				return pgsql.Match{ID: 2, MaxPlayers: 4, Players: []string{"x"}, CreatedAt: "2026-01-10 11:00:00",
					CanceledReason: sql.NullString{String: string(ReasonInactivity), Valid: true}}, nil
			case 3:
				return pgsql.Match{ID: 3, MaxPlayers: 4, Players: []string{"x"}, CreatedAt: "2026-01-10 11:00:00"}, nil
			}
			return pgsql.Match{}, sql.ErrNoRows
		},
	}
	svc := newTestService(repo, &sinkMock{})

	var verr *ValidationError
	if _, err := svc.Join(context.Background(), 1, "c"); !errors.As(err, &verr) {
		t.Fatalf("full match: expected validation error, got %v", err)
	}
	if _, err := svc.Join(context.Background(), 2, "c"); !errors.As(err, &verr) {
		t.Fatalf("canceled match: expected validation error, got %v", err)
	}
	if _, err := svc.Join(context.Background(), 3, "x"); !errors.As(err, &verr) {
		t.Fatalf("double join: expected validation error, got %v", err)
	}
	if _, err := svc.Join(context.Background(), 99, "c"); !errors.As(err, &verr) {
		t.Fatalf("missing match: expected validation error, got %v", err)
	}
}

func TestLeave_LastPlayerDeserts(t *testing.T) {
	var canceledReason string
	repo := &matchRepoMock{
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			return pgsql.Match{ID: 6, ChannelID: "c", MaxPlayers: 4, Players: []string{"solo"}, CreatedAt: "2026-01-10 11:00:00"}, nil
		},
		setCanceledFn: func(ctx context.Context, matchID int64, reason string) (bool, error) {
			canceledReason = reason
			return true, nil
		},
	}
	svc := newTestService(repo, &sinkMock{})

	if err := svc.Leave(context.Background(), 6, "solo"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if canceledReason != string(ReasonDeserted) {
		t.Fatalf("cancel reason = %q, want %q", canceledReason, ReasonDeserted)
	}
}

func TestCancel_IdempotentAndCascades(t *testing.T) {
	destroyed := int64(0)
	won := true
	sink := &sinkMock{}
	repo := &matchRepoMock{
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			return pgsql.Match{
				ID: 8, ChannelID: "chan", MaxPlayers: 2,
				ServerID:  sql.NullInt64{Int64: 44, Valid: true},
				CreatedAt: "2026-01-10 11:00:00",
			}, nil
		},
		setCanceledFn: func(ctx context.Context, matchID int64, reason string) (bool, error) {
			return won, nil
		},
	}
	lifecycle := &lifecycleMock{
		destroyFn: func(ctx context.Context, serverID int64) error {
			destroyed = serverID
			return nil
		},
	}
	svc := newTestService(repo, sink)
	svc.BindServerLifecycle(lifecycle)

	if err := svc.Cancel(context.Background(), 8, ReasonEnded); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if destroyed != 44 {
		t.Fatalf("server teardown not triggered")
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sink.sent))
	}

	// Second cancel loses the conditional write and does nothing.
	won = false
	destroyed = 0
	if err := svc.Cancel(context.Background(), 8, ReasonInactivity); err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if destroyed != 0 || len(sink.sent) != 1 {
		t.Fatalf("repeat cancel must not notify or destroy again")
	}
}

func TestCancelUnfulfilledScheduled_SkipsFull(t *testing.T) {
	var canceled []int64
	repo := &matchRepoMock{
		findUnfulfilledScheduledFn: func(ctx context.Context, now string) ([]pgsql.Match, error) {
			return []pgsql.Match{
				{ID: 1, ChannelID: "c", MaxPlayers: 4, Players: []string{"a"}, CreatedAt: "2026-01-10 10:00:00"},
				{ID: 2, ChannelID: "c", MaxPlayers: 2, Players: []string{"a", "b"}, CreatedAt: "2026-01-10 10:00:00"},
			}, nil
		},
		readFn: func(ctx context.Context, id int64) (pgsql.Match, error) {
			return pgsql.Match{ID: id, ChannelID: "c", MaxPlayers: 4, CreatedAt: "2026-01-10 10:00:00"}, nil
		},
		setCanceledFn: func(ctx context.Context, matchID int64, reason string) (bool, error) {
			canceled = append(canceled, matchID)
			return true, nil
		},
	}
	svc := newTestService(repo, &sinkMock{})

	if err := svc.CancelUnfulfilledScheduled(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(canceled) != 1 || canceled[0] != 1 {
		t.Fatalf("canceled = %v, want only match 1", canceled)
	}
}

func TestCancelInactive_UsesCutoff(t *testing.T) {
	var gotCutoff string
	repo := &matchRepoMock{
		findInactiveUnscheduledFn: func(ctx context.Context, cutoff string) ([]pgsql.Match, error) {
			gotCutoff = cutoff
			return nil, nil
		},
	}
	svc := newTestService(repo, &sinkMock{})

	if err := svc.CancelInactive(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	want := timefmt.Format(fixedNow.Add(-InactivityCutoff))
	if gotCutoff != want {
		t.Fatalf("cutoff = %q, want %q", gotCutoff, want)
	}
}

func TestProvisionReady_OnlyFullMatches(t *testing.T) {
	var provisioned []int64
	repo := &matchRepoMock{
		findProvisionReadyFn: func(ctx context.Context, cutoff string) ([]pgsql.Match, error) {
			return []pgsql.Match{
				{ID: 1, MaxPlayers: 2, Players: []string{"a"}, CreatedAt: "2026-01-10 11:00:00"},
				{ID: 2, MaxPlayers: 2, Players: []string{"a", "b"}, CreatedAt: "2026-01-10 11:00:00"},
			}, nil
		},
	}
	lifecycle := &lifecycleMock{
		createForMatchFn: func(ctx context.Context, m pgsql.Match) error {
			provisioned = append(provisioned, m.ID)
			return nil
		},
	}
	svc := newTestService(repo, &sinkMock{})
	svc.BindServerLifecycle(lifecycle)

	if err := svc.ProvisionReady(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(provisioned) != 1 || provisioned[0] != 2 {
		t.Fatalf("provisioned = %v, want only match 2", provisioned)
	}
}

func TestCollisionDetector_WindowBounds(t *testing.T) {
	var gotStart, gotEnd string
	repo := &matchRepoMock{
		findCollidingFn: func(ctx context.Context, playerID string, windowStart string, windowEnd string) (pgsql.Match, bool, error) {
			gotStart, gotEnd = windowStart, windowEnd
			return pgsql.Match{}, false, nil
		},
	}
	detector := NewCollisionDetector(repo)

	_, found, err := detector.Find(context.Background(), "u", fixedNow)
	if err != nil || found {
		t.Fatalf("unexpected result: found=%v err=%v", found, err)
	}
	if gotStart != "2026-01-10 10:30:00" || gotEnd != "2026-01-10 13:30:00" {
		t.Fatalf("window = (%q, %q)", gotStart, gotEnd)
	}
}
