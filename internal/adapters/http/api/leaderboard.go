package api

import (
	"net/http"
	"strconv"
)

// LeaderboardHandler serves the cross-session leaderboard and stored
// session reads.
type LeaderboardHandler struct {
	deps     Dependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps Dependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// limit parses ?limit=N, falling back to def when absent.
func (h *LeaderboardHandler) limit(r *http.Request, def int) (int, string, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, "", true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, "bad_request", false
	}
	if n > h.maxLimit {
		return 0, "limit_exceeded", false
	}
	return n, "", true
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n, code, ok := h.limit(r, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, code, NewKind(op, ErrBadRequest))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGetRank handles GET /rank/{participant} requests.
func (h *LeaderboardHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	id := r.PathValue("participant")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	entry, err := h.deps.Rank(r.Context(), id)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleListSessions handles GET /sessions?limit=N requests.
func (h *LeaderboardHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_sessions"
	n, code, ok := h.limit(r, 20)
	if !ok {
		writeError(w, http.StatusBadRequest, code, NewKind(op, ErrBadRequest))
		return
	}
	records, err := h.deps.Sessions(r.Context(), n)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleGetSessionPayload handles GET /sessions/{id} requests.
func (h *LeaderboardHandler) HandleGetSessionPayload(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session_payload"
	payload, err := h.deps.SessionPayload(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
