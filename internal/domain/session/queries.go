package session

import (
	"fmt"
	"time"

	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/serieskey"
	"github.com/okian/pulse/internal/domain/summary"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State         State      `json:"state"`
	SessionID     string     `json:"sessionId,omitempty"`
	StartTime     time.Time  `json:"startTime,omitempty"`
	TickCount     int        `json:"tickCount"`
	BufferedCount int        `json:"bufferedCount"`
	ActiveCount   int        `json:"activeCount"`
	TotalCoins    int        `json:"totalCoins"`
	KnownDevices  int        `json:"knownDevices"`
	Assignments   int        `json:"assignments"`
	ElapsedMs     int64      `json:"elapsedMs"`
	LastEnd       *EndResult `json:"lastEnd,omitempty"`
}

// Status reports the current lifecycle state and headline counters.
func (o *Orchestrator) Status() Status {
	st := Status{
		State:         o.state,
		BufferedCount: len(o.buffer),
		KnownDevices:  len(o.devices.Known()),
		Assignments:   len(o.ledger.Entries()),
		LastEnd:       o.lastEnd,
	}
	if o.state != StateActive {
		return st
	}
	st.SessionID = o.sessionID
	st.StartTime = o.startedAt
	st.TickCount = o.timeline.TickCount()
	st.ActiveCount = len(o.lastTick.Active)
	st.TotalCoins = o.engine.Total()
	st.ElapsedMs = o.clock.Now().Sub(o.startedAt).Milliseconds()
	return st
}

// Roster lists every participant seen in the active session.
func (o *Orchestrator) Roster() ([]summary.RosterEntry, error) {
	if o.state != StateActive {
		return nil, ErrNotActive
	}
	return o.roster(), nil
}

// HistoricalParticipants returns the ids of everyone seen this session,
// including participants who have since left.
func (o *Orchestrator) HistoricalParticipants() ([]string, error) {
	if o.state != StateActive {
		return nil, ErrNotActive
	}
	return o.historicalIDs(), nil
}

// Series returns the user-scoped series for participantID and metric.
func (o *Orchestrator) Series(participantID, metric string) ([]*float64, error) {
	if o.state != StateActive {
		return nil, ErrNotActive
	}
	k, err := serieskey.User(participantID, metric)
	if err != nil {
		return nil, err
	}
	s, ok := o.timeline.Series(k.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSeries, k.String())
	}
	return s, nil
}

// Timeline returns the timebase, series and events recorded so far.
func (o *Orchestrator) Timeline() (summary.Timeline, error) {
	if o.state != StateActive {
		return summary.Timeline{}, ErrNotActive
	}
	return summary.FromTimeline(o.timeline), nil
}

// RewardSummary returns the bucket totals and color timelines.
func (o *Orchestrator) RewardSummary() (reward.Summary, error) {
	if o.state != StateActive {
		return reward.Summary{}, ErrNotActive
	}
	return o.engine.Summary(), nil
}

// Entities returns every segment in creation order.
func (o *Orchestrator) Entities() ([]entity.Entity, error) {
	if o.state != StateActive {
		return nil, ErrNotActive
	}
	return o.entities.All(), nil
}

// EntityAggregate folds every segment of profileID.
func (o *Orchestrator) EntityAggregate(profileID string) (entity.Aggregate, error) {
	if o.state != StateActive {
		return entity.Aggregate{}, ErrNotActive
	}
	return o.entities.ProfileAggregate(profileID, o.clock.Now()), nil
}

// Assignments lists the device ledger.
func (o *Orchestrator) Assignments() []identity.Assignment {
	return o.ledger.Entries()
}

// Mismatches lists ledger entries that disagree with the directory.
func (o *Orchestrator) Mismatches() []identity.Mismatch {
	return o.resolver.Reconcile()
}

// Snapshot builds the summary of the active session without validating it.
func (o *Orchestrator) Snapshot() (summary.Summary, error) {
	if o.state != StateActive {
		return summary.Summary{}, ErrNotActive
	}
	return o.buildSummary(o.clock.Now()), nil
}
