package api

import (
	"net/http"

	"github.com/okian/pulse/internal/domain/session"
)

// StatsProvider reports queue and runtime counters of the service.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves GET /stats: service counters plus the headline of the
// running session.
type StatsHandler struct {
	service StatsProvider
	deps    Dependencies
}

type sessionStats struct {
	State       session.State `json:"state"`
	SessionID   string        `json:"sessionId,omitempty"`
	TickCount   int           `json:"tickCount"`
	ActiveCount int           `json:"activeCount"`
	TotalCoins  int           `json:"totalCoins"`
}

type statsResponse struct {
	Service map[string]interface{} `json:"service"`
	Session *sessionStats          `json:"session,omitempty"`
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(service StatsProvider, deps Dependencies) *StatsHandler {
	return &StatsHandler{service: service, deps: deps}
}

// HandleStats handles GET /stats. The session block is omitted while the
// orchestrator is unreachable.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Service: h.service.GetStats()}
	if st, err := h.deps.Status(r.Context()); err == nil {
		resp.Session = &sessionStats{
			State:       st.State,
			SessionID:   st.SessionID,
			TickCount:   st.TickCount,
			ActiveCount: st.ActiveCount,
			TotalCoins:  st.TotalCoins,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
