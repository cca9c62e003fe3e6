package pgsql

import (
	"database/sql"
	"testing"
)

func TestMatchDerivedStates(t *testing.T) {
	m := Match{
		MaxPlayers: 4,
		Players:    []string{"a", "b", "c"},
		CreatedAt:  "2026-01-10 12:00:00",
	}
	if m.IsFull() {
		t.Fatalf("match with 3/4 players reported full")
	}
	m.Players = append(m.Players, "d")
	if !m.IsFull() {
		t.Fatalf("match with 4/4 players not reported full")
	}
	if m.HasServer() || m.IsCanceled() || m.IsScheduled() {
		t.Fatalf("zero-value nullable columns should derive false states")
	}
	if got := m.EffectiveAt(); got != "2026-01-10 12:00:00" {
		t.Fatalf("immediate match effective time = %q, want creation time", got)
	}
	m.ScheduledAt = sql.NullString{String: "2026-01-11 18:00:00", Valid: true}
	if got := m.EffectiveAt(); got != "2026-01-11 18:00:00" {
		t.Fatalf("scheduled match effective time = %q", got)
	}
}

func TestMatchMapList(t *testing.T) {
	m := Match{Maps: "mp_carentan, mp_harbor ,,mp_dawnville"}
	maps := m.MapList()
	if len(maps) != 3 || maps[0] != "mp_carentan" || maps[1] != "mp_harbor" || maps[2] != "mp_dawnville" {
		t.Fatalf("unexpected map list: %v", maps)
	}
	if (Match{Maps: "  "}).MapList() != nil {
		t.Fatalf("blank maps column should yield nil list")
	}
}

func TestServerUserProvided(t *testing.T) {
	s := Server{}
	if s.UserProvided() {
		t.Fatalf("server without user_id reported user provided")
	}
	s.UserID = sql.NullString{String: "u1", Valid: true}
	if !s.UserProvided() {
		t.Fatalf("server with user_id not reported user provided")
	}
}
