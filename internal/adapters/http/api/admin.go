package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/zone"
)

// AdminHandler serves operator actions: assignments, transfers, roster
// configuration and voice memos.
type AdminHandler struct {
	deps Dependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

type assignRequest struct {
	DeviceID      string `json:"device_id"`
	Name          string `json:"name"`
	ParticipantID string `json:"participant_id"`
	Guest         bool   `json:"guest"`
}

// HandleAssign handles POST /assignments.
func (h *AdminHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	const op = "api.assign"
	var req assignRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		fail(w, op, WrapKind(op, ErrBadRequest, errors.New("missing device_id")))
		return
	}
	if strings.TrimSpace(req.Name) == "" && strings.TrimSpace(req.ParticipantID) == "" {
		fail(w, op, WrapKind(op, ErrBadRequest, errors.New("missing name or participant_id")))
		return
	}
	a, err := h.deps.AssignDevice(r.Context(), session.AssignRequest{
		DeviceID:      strings.TrimSpace(req.DeviceID),
		Name:          req.Name,
		ParticipantID: req.ParticipantID,
		Guest:         req.Guest,
	})
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleUnassign handles DELETE /assignments/{device}.
func (h *AdminHandler) HandleUnassign(w http.ResponseWriter, r *http.Request) {
	const op = "api.unassign"
	device := r.PathValue("device")
	if device == "" {
		fail(w, op, NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.UnassignDevice(r.Context(), device); err != nil {
		fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reconcileResponse struct {
	Assignments []identity.Assignment `json:"assignments"`
	Mismatches  []identity.Mismatch   `json:"mismatches"`
}

// HandleReconcile handles GET /reconcile.
func (h *AdminHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	assignments, mismatches, err := h.deps.Assignments(r.Context())
	if err != nil {
		fail(w, "api.reconcile", err)
		return
	}
	if assignments == nil {
		assignments = []identity.Assignment{}
	}
	if mismatches == nil {
		mismatches = []identity.Mismatch{}
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Assignments: assignments, Mismatches: mismatches})
}

type transferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HandleTransfer handles POST /transfers.
func (h *AdminHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	const op = "api.transfer"
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	if req.From == "" || req.To == "" {
		fail(w, op, WrapKind(op, ErrBadRequest, errors.New("from and to are required")))
		return
	}
	if err := h.deps.Transfer(r.Context(), req.From, req.To); err != nil {
		fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rosterRequest struct {
	Zones []zone.Zone     `json:"zones"`
	Users []identity.User `json:"users"`
}

// HandleConfigure handles PUT /roster. Omitted lists keep their current value.
func (h *AdminHandler) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	const op = "api.configure"
	var req rosterRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	if err := h.deps.Configure(r.Context(), req.Zones, req.Users); err != nil {
		fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memoRequest struct {
	ParticipantID string `json:"participant_id"`
	DurationMs    int64  `json:"duration_ms"`
	Transcript    string `json:"transcript"`
}

// HandleMemo handles POST /memos.
func (h *AdminHandler) HandleMemo(w http.ResponseWriter, r *http.Request) {
	const op = "api.memo"
	var req memoRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		fail(w, op, WrapKind(op, ErrBadRequest, errors.New("missing transcript")))
		return
	}
	memo, err := h.deps.AddVoiceMemo(r.Context(), session.VoiceMemoRequest{
		ParticipantID: req.ParticipantID,
		DurationMs:    req.DurationMs,
		Transcript:    req.Transcript,
	})
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, memo)
}
