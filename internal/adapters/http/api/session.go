package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// SessionHandler serves sample ingestion and the live session views.
type SessionHandler struct {
	deps Dependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps Dependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

// sampleRequest is the body of POST /samples.
type sampleRequest struct {
	DeviceID  string   `json:"device_id"`
	Type      string   `json:"type"`
	Timestamp string   `json:"ts"`
	HeartRate *float64 `json:"heart_rate"`
	RPM       *float64 `json:"rpm"`
	Power     *float64 `json:"power"`
	Distance  *float64 `json:"distance"`
}

func (s sampleRequest) toSample() (model.DeviceSample, error) {
	out := model.DeviceSample{
		DeviceID:  strings.TrimSpace(s.DeviceID),
		Type:      strings.TrimSpace(s.Type),
		HeartRate: s.HeartRate,
		RPM:       s.RPM,
		Power:     s.Power,
		Distance:  s.Distance,
	}
	if out.DeviceID == "" {
		return out, errors.New("missing device_id")
	}
	if out.Type == "" {
		out.Type = model.DeviceHeartRate
	}
	if s.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, s.Timestamp)
		if err != nil {
			return out, errors.New("invalid ts; must be RFC3339")
		}
		out.Timestamp = ts
	}
	return out, nil
}

type ackResponse struct {
	Status string `json:"status"`
}

// HandlePostSample handles POST /samples.
func (h *SessionHandler) HandlePostSample(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_sample"
	var req sampleRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, op, err)
		return
	}
	sample, err := req.toSample()
	if err != nil {
		fail(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Ingest(r.Context(), sample); err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleEndSession handles POST /session/end.
func (h *SessionHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.EndSession(r.Context())
	if err != nil {
		fail(w, "api.end_session", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGetSession handles GET /session.
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Status(r.Context())
	if err != nil {
		fail(w, "api.get_session", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetRoster handles GET /roster.
func (h *SessionHandler) HandleGetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.deps.Roster(r.Context())
	if err != nil {
		fail(w, "api.get_roster", err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// HandleGetTimeline handles GET /timeline.
func (h *SessionHandler) HandleGetTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.deps.Timeline(r.Context())
	if err != nil {
		fail(w, "api.get_timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

type seriesResponse struct {
	Participant string     `json:"participant"`
	Metric      string     `json:"metric"`
	Values      []*float64 `json:"values"`
}

// HandleGetSeries handles GET /series?participant=&metric=.
func (h *SessionHandler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_series"
	q := r.URL.Query()
	participant, metric := q.Get("participant"), q.Get("metric")
	if participant == "" || metric == "" {
		fail(w, op, NewKind(op, ErrBadRequest))
		return
	}
	values, err := h.deps.Series(r.Context(), participant, metric)
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, seriesResponse{Participant: participant, Metric: metric, Values: values})
}

// HandleGetHistory handles GET /participants/history.
func (h *SessionHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	ids, err := h.deps.HistoricalParticipants(r.Context())
	if err != nil {
		fail(w, "api.get_history", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// HandleGetRewards handles GET /rewards.
func (h *SessionHandler) HandleGetRewards(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.RewardSummary(r.Context())
	if err != nil {
		fail(w, "api.get_rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleGetEntities handles GET /entities. With ?profile= it returns that
// profile's aggregate instead of the full list.
func (h *SessionHandler) HandleGetEntities(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_entities"
	if profile := r.URL.Query().Get("profile"); profile != "" {
		agg, err := h.deps.EntityAggregate(r.Context(), profile)
		if err != nil {
			fail(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
		return
	}
	list, err := h.deps.Entities(r.Context())
	if err != nil {
		fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
