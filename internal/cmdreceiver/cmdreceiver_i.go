package cmdreceiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"
	"github.com/akalitenya/discord-matchmaking/internal/match"
	"github.com/akalitenya/discord-matchmaking/internal/notify"
	"github.com/akalitenya/discord-matchmaking/internal/pgsql"
	"github.com/akalitenya/discord-matchmaking/internal/server"
	"github.com/akalitenya/discord-matchmaking/internal/timefmt"
)

// Accepted besides timefmt.Layout when users omit seconds.
const shortTimeLayout = "2006-01-02 15:04"

type MatchCommandRequest struct {
	Action      string `json:"action"`
	PlayerID    string `json:"player_id"`
	ChannelID   string `json:"channel_id"`
	MatchID     string `json:"match_id"`
	SidePlayers string `json:"side_players"`
	MapName     string `json:"map"`
	ScheduledAt string `json:"scheduled_at"`
	RequestID   string `json:"request_id"`
}

type MatchCommandResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message,omitempty"`
	Match   *MatchInfo `json:"match,omitempty"`
}

type MatchInfo struct {
	ID          int64       `json:"id"`
	MaxPlayers  int         `json:"max_players"`
	Players     []string    `json:"players"`
	Map         string      `json:"map"`
	ScheduledAt string      `json:"scheduled_at,omitempty"`
	Canceled    string      `json:"canceled,omitempty"`
	Server      *ServerInfo `json:"server,omitempty"`
}

type ServerInfo struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	IP       string `json:"ip,omitempty"`
	Password string `json:"password,omitempty"`
	RCON     string `json:"rcon,omitempty"`
}

type Service interface {
	HandleMatchCommand(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse)
}

type HandlerI struct {
	service Service
}

func NewHandlerI(service Service) *HandlerI {
	return &HandlerI{service: service}
}

func (h *HandlerI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/cmd/match", h.handleMatchCommand)
}

func (h *HandlerI) handleMatchCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, MatchCommandResponse{Status: "error", Message: "method not allowed"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "invalid form"})
		return
	}

	req := MatchCommandRequest{
		Action:      strings.TrimSpace(r.FormValue("action")),
		PlayerID:    strings.TrimSpace(r.FormValue("player_id")),
		ChannelID:   strings.TrimSpace(r.FormValue("channel_id")),
		MatchID:     strings.TrimSpace(r.FormValue("match_id")),
		SidePlayers: strings.TrimSpace(r.FormValue("side_players")),
		MapName:     strings.TrimSpace(r.FormValue("map")),
		ScheduledAt: strings.TrimSpace(r.FormValue("scheduled_at")),
		RequestID:   strings.TrimSpace(r.FormValue("request_id")),
	}

	status, resp := h.service.HandleMatchCommand(r.Context(), req)
	writeJSON(w, status, resp)
}

type ServiceI struct {
	matches     match.Service
	repos       pgsql.Repos
	notifier    notify.Sink
	environment string
}

func NewServiceI(matches match.Service, repos pgsql.Repos, notifier notify.Sink, environment string) *ServiceI {
	return &ServiceI{matches: matches, repos: repos, notifier: notifier, environment: environment}
}

func (s *ServiceI) HandleMatchCommand(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse) {
	if req.Action == "" || req.PlayerID == "" {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "missing required fields"}
	}

	switch req.Action {
	case "create":
		return s.handleCreate(ctx, req)
	case "join":
		return s.handleJoin(ctx, req)
	case "leave":
		return s.handleLeave(ctx, req)
	case "cancel":
		return s.handleCancel(ctx, req)
	case "info":
		return s.handleInfo(ctx, req)
	}
	return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: fmt.Sprintf("unknown action %q", req.Action)}
}

func (s *ServiceI) handleCreate(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse) {
	if req.ChannelID == "" {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "channel_id is required"}
	}
	side, err := strconv.Atoi(req.SidePlayers)
	if err != nil {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "side_players must be a number"}
	}

	spec := match.CreateSpec{
		ChannelID:   req.ChannelID,
		CreatorID:   req.PlayerID,
		SidePlayers: side,
		MapName:     req.MapName,
	}
	if req.ScheduledAt != "" {
		at, err := parseUserTime(req.ScheduledAt)
		if err != nil {
			return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "scheduled_at must be YYYY-MM-DD HH:mm"}
		}
		spec.ScheduledAt = &at
	}

	m, err := s.matches.Create(ctx, spec)
	if err != nil {
		return s.errorResponse(err)
	}
	return http.StatusOK, MatchCommandResponse{Status: "ok", Match: s.matchInfo(ctx, m)}
}

func (s *ServiceI) handleJoin(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse) {
	logger := ilog.Component("cmdreceiver")

	matchID, ok := parseMatchID(req.MatchID)
	if !ok {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "match_id must be a number"}
	}

	m, err := s.matches.Join(ctx, matchID, req.PlayerID)
	if err != nil {
		var perr *match.ProvisionError
		if !errors.As(err, &perr) {
			return s.errorResponse(err)
		}

		// The join itself landed but provisioning did not; tell the
		// player where their command went wrong.
		logger.Errorf("provisioning after join of match %d failed: %v", matchID, err)
		if s.notifier != nil && req.RequestID != "" {
			msg := fmt.Sprintf("Match %d is full but the server could not be started, contact an admin.", matchID)
			if rerr := s.notifier.ReplyTo(ctx, req.RequestID, msg); rerr != nil {
				logger.Errorf("failure reply for match %d failed: %v", matchID, rerr)
			}
		}
		return http.StatusBadGateway, MatchCommandResponse{Status: "error", Message: "server could not be started, contact an admin"}
	}
	return http.StatusOK, MatchCommandResponse{Status: "ok", Match: s.matchInfo(ctx, m)}
}

func (s *ServiceI) handleLeave(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse) {
	matchID, ok := parseMatchID(req.MatchID)
	if !ok {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "match_id must be a number"}
	}
	if err := s.matches.Leave(ctx, matchID, req.PlayerID); err != nil {
		return s.errorResponse(err)
	}
	return http.StatusOK, MatchCommandResponse{Status: "ok"}
}

func (s *ServiceI) handleCancel(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse) {
	matchID, ok := parseMatchID(req.MatchID)
	if !ok {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "match_id must be a number"}
	}

	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return s.errorResponse(err)
	}
	if m.CreatorID != req.PlayerID {
		return http.StatusForbidden, MatchCommandResponse{Status: "error", Message: "only the creator can cancel a match"}
	}
	if err := s.matches.Cancel(ctx, matchID, match.ReasonCanceled); err != nil {
		return s.errorResponse(err)
	}
	return http.StatusOK, MatchCommandResponse{Status: "ok"}
}

func (s *ServiceI) handleInfo(ctx context.Context, req MatchCommandRequest) (int, MatchCommandResponse) {
	matchID, ok := parseMatchID(req.MatchID)
	if !ok {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: "match_id must be a number"}
	}
	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return s.errorResponse(err)
	}
	return http.StatusOK, MatchCommandResponse{Status: "ok", Match: s.matchInfo(ctx, m)}
}

func (s *ServiceI) matchInfo(ctx context.Context, m pgsql.Match) *MatchInfo {
	logger := ilog.Component("cmdreceiver")

	info := &MatchInfo{
		ID:         m.ID,
		MaxPlayers: m.MaxPlayers,
		Players:    m.Players,
		Map:        m.Maps,
	}
	if m.IsScheduled() {
		info.ScheduledAt = m.ScheduledAt.String
	}
	if m.IsCanceled() {
		info.Canceled = m.CanceledReason.String
	}
	if m.HasServer() {
		srv, err := s.repos.Server.Read(ctx, m.ServerID.Int64)
		if err != nil {
			logger.Errorf("read server %d for match %d failed: %v", m.ServerID.Int64, m.ID, err)
			return info
		}
		info.Server = &ServerInfo{
			Name:     server.NameForMatch(s.environment, m.ID),
			Status:   srv.Status,
			IP:       srv.IP.String,
			Password: srv.Password.String,
			RCON:     srv.RCON.String,
		}
	}
	return info
}

func (s *ServiceI) errorResponse(err error) (int, MatchCommandResponse) {
	var verr *match.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, MatchCommandResponse{Status: "error", Message: verr.Msg}
	}
	var cerr *match.CollisionError
	if errors.As(err, &cerr) {
		return http.StatusConflict, MatchCommandResponse{
			Status:  "error",
			Message: fmt.Sprintf("you already have match %d around %s", cerr.MatchID, cerr.EffectiveAt),
		}
	}
	ilog.Component("cmdreceiver").Errorf("command failed: %v", err)
	return http.StatusInternalServerError, MatchCommandResponse{Status: "error", Message: "internal error"}
}

func parseMatchID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseUserTime(raw string) (time.Time, error) {
	if t, err := timefmt.Parse(raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(shortTimeLayout, raw, time.UTC)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var _ Service = (*ServiceI)(nil)
