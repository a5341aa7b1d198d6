// Package activity decides whether a participant is presently broadcasting.
//
// The Monitor is the only component that turns per-tick observations into an
// activity status; every other consumer asks it instead of inspecting raw
// timestamps.
package activity

import (
	"sort"
	"sync"
	"time"
)

// Status of one participant.
type Status string

// Participant statuses.
const (
	StatusUnknown Status = "unknown"
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusDropped Status = "dropped"
)

// Transition types recorded by the monitor.
const (
	EventDropout   = "participant_dropout"
	EventRecovered = "participant_recovered"
)

// Event is a dropout or recovery transition.
type Event struct {
	ParticipantID string    `json:"participantId"`
	Type          string    `json:"type"`
	TickIndex     int       `json:"tickIndex"`
	Timestamp     time.Time `json:"timestamp"`
}

// Checker is the read side consumed by the reward engine and the roster.
type Checker interface {
	IsActive(participantID string) bool
	Status(participantID string) Status
}

type participant struct {
	status     Status
	missed     int
	lastActive int
}

// Monitor tracks participant activity one tick at a time.
type Monitor struct {
	mu           sync.RWMutex
	graceTicks   int
	participants map[string]*participant
	events       []Event
}

// Option applies a configuration option to the Monitor.
type Option func(*Monitor)

// WithGraceTicks sets how many consecutive missed ticks are reported as idle
// before a participant is considered dropped.
func WithGraceTicks(n int) Option {
	return func(m *Monitor) {
		if n >= 0 {
			m.graceTicks = n
		}
	}
}

// NewMonitor returns an empty monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		graceTicks:   2,
		participants: make(map[string]*participant),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe records which participants broadcast valid data at tick and returns
// the transitions it caused.
func (m *Monitor) Observe(tick int, ts time.Time, active []string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	present := make(map[string]struct{}, len(active))
	var out []Event
	for _, id := range active {
		present[id] = struct{}{}
		p, ok := m.participants[id]
		if !ok {
			p = &participant{}
			m.participants[id] = p
		}
		if p.status == StatusDropped {
			out = append(out, Event{ParticipantID: id, Type: EventRecovered, TickIndex: tick, Timestamp: ts})
		}
		p.status = StatusActive
		p.missed = 0
		p.lastActive = tick
	}

	ids := make([]string, 0, len(m.participants))
	for id := range m.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := present[id]; ok {
			continue
		}
		p := m.participants[id]
		if p.status == StatusDropped {
			continue
		}
		p.missed++
		if p.missed <= m.graceTicks {
			p.status = StatusIdle
			continue
		}
		p.status = StatusDropped
		out = append(out, Event{ParticipantID: id, Type: EventDropout, TickIndex: tick, Timestamp: ts})
	}
	m.events = append(m.events, out...)
	return out
}

// IsActive reports whether id broadcast valid data on the latest tick.
func (m *Monitor) IsActive(id string) bool {
	return m.Status(id) == StatusActive
}

// Status returns the current status of id.
func (m *Monitor) Status(id string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return StatusUnknown
	}
	return p.status
}

// ActiveCount returns the number of participants currently active.
func (m *Monitor) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.participants {
		if p.status == StatusActive {
			n++
		}
	}
	return n
}

// Known returns every participant ever observed, sorted.
func (m *Monitor) Known() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.participants))
	for id := range m.participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Dropouts returns the dropout events recorded for id.
func (m *Monitor) Dropouts(id string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.ParticipantID == id && e.Type == EventDropout {
			out = append(out, e)
		}
	}
	return out
}

// Events returns every recorded transition in order.
func (m *Monitor) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Restore rebuilds dropout state from a previously recorded event log.
// Participants whose last event is a dropout are marked dropped.
func (m *Monitor) Restore(events []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		p, ok := m.participants[e.ParticipantID]
		if !ok {
			p = &participant{}
			m.participants[e.ParticipantID] = p
		}
		switch e.Type {
		case EventDropout:
			p.status = StatusDropped
			p.missed = m.graceTicks + 1
		case EventRecovered:
			p.status = StatusActive
			p.missed = 0
			p.lastActive = e.TickIndex
		}
		m.events = append(m.events, e)
	}
}

// Reset forgets every participant and event.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.participants = make(map[string]*participant)
	m.events = nil
	m.mu.Unlock()
}
