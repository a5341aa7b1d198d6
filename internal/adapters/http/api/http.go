// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/repository"
	service "github.com/okian/pulse/internal/app"
	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/serieskey"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/zone"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Ingest queues a device sample. Backpressure surfaces as queue.ErrFull.
	Ingest(ctx context.Context, sample model.DeviceSample) error
	EndSession(ctx context.Context) (session.EndResult, error)

	Status(ctx context.Context) (session.Status, error)
	Roster(ctx context.Context) ([]summary.RosterEntry, error)
	Timeline(ctx context.Context) (summary.EncodedTimeline, error)
	Series(ctx context.Context, participantID, metric string) ([]*float64, error)
	HistoricalParticipants(ctx context.Context) ([]string, error)
	RewardSummary(ctx context.Context) (reward.Summary, error)
	Entities(ctx context.Context) ([]entity.Entity, error)
	EntityAggregate(ctx context.Context, profileID string) (entity.Aggregate, error)

	AssignDevice(ctx context.Context, req session.AssignRequest) (identity.Assignment, error)
	UnassignDevice(ctx context.Context, deviceID string) error
	Assignments(ctx context.Context) ([]identity.Assignment, []identity.Mismatch, error)
	Transfer(ctx context.Context, from, to string) error
	AddVoiceMemo(ctx context.Context, req session.VoiceMemoRequest) (summary.VoiceMemo, error)
	Configure(ctx context.Context, zones []zone.Zone, users []identity.User) error

	// Read operations expose stored sessions and the leaderboard.
	TopN(ctx context.Context, n int) ([]repository.Standing, error)
	Rank(ctx context.Context, participantID string) (repository.Standing, error)
	Sessions(ctx context.Context, limit int) ([]repository.Record, error)
	SessionPayload(ctx context.Context, sessionID string) (summary.Payload, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	sessionHandler     *SessionHandler
	adminHandler       *AdminHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers. maxLimit caps the
// limit query parameter of list endpoints.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider, deps),
		sessionHandler:     NewSessionHandler(deps),
		adminHandler:       NewAdminHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, Instrument(route, h))
	}

	handle("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	handle("GET /stats", "stats", s.statsHandler.HandleStats)

	handle("POST /samples", "samples", s.sessionHandler.HandlePostSample)
	handle("POST /session/end", "session_end", s.sessionHandler.HandleEndSession)
	handle("GET /session", "session", s.sessionHandler.HandleGetSession)
	handle("GET /roster", "roster", s.sessionHandler.HandleGetRoster)
	handle("GET /timeline", "timeline", s.sessionHandler.HandleGetTimeline)
	handle("GET /series", "series", s.sessionHandler.HandleGetSeries)
	handle("GET /participants/history", "participants_history", s.sessionHandler.HandleGetHistory)
	handle("GET /rewards", "rewards", s.sessionHandler.HandleGetRewards)
	handle("GET /entities", "entities", s.sessionHandler.HandleGetEntities)

	handle("POST /assignments", "assignments", s.adminHandler.HandleAssign)
	handle("DELETE /assignments/{device}", "assignments", s.adminHandler.HandleUnassign)
	handle("GET /reconcile", "reconcile", s.adminHandler.HandleReconcile)
	handle("POST /transfers", "transfers", s.adminHandler.HandleTransfer)
	handle("PUT /roster", "roster_config", s.adminHandler.HandleConfigure)
	handle("POST /memos", "memos", s.adminHandler.HandleMemo)

	handle("GET /leaderboard", "leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	handle("GET /rank/{participant}", "rank", s.leaderboardHandler.HandleGetRank)
	handle("GET /sessions", "sessions", s.leaderboardHandler.HandleListSessions)
	handle("GET /sessions/{id}", "session_payload", s.leaderboardHandler.HandleGetSessionPayload)
}

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err onto a status code and error code and writes it.
func fail(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	writeError(w, status, code, Wrap(op, err))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, session.ErrNotActive):
		return http.StatusConflict, "no_active_session"
	case errors.Is(err, session.ErrEnding),
		errors.Is(err, entity.ErrTerminal),
		errors.Is(err, reward.ErrAlreadyTransferred):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrUnranked),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, identity.ErrUnknownDevice),
		errors.Is(err, reward.ErrUnknownKey),
		errors.Is(err, session.ErrUnknownSeries):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrInvalidSample),
		errors.Is(err, session.ErrInvalidConfig),
		errors.Is(err, identity.ErrInvalidID),
		errors.Is(err, identity.ErrDuplicateOwner),
		errors.Is(err, entity.ErrInvalidEntity),
		errors.Is(err, reward.ErrSelfTransfer),
		errors.Is(err, serieskey.ErrMalformedKey),
		errors.Is(err, serieskey.ErrUnknownScope),
		errors.Is(err, zone.ErrInvalidZone),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}
