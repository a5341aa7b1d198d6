// Package timeline stores fixed-interval metric series and the session event log.
//
// Every series has exactly one (possibly null) slot per recorded tick. A key
// first seen at tick n is backfilled with nulls for ticks 0..n-1, and a known
// key absent from a tick receives an explicit null.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/pulse/pkg/logger"
)

// Timebase describes the tick grid.
type Timebase struct {
	StartTime time.Time
	Interval  time.Duration
	TickCount int
}

// Event is one entry of the append-only event log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	OffsetMs  int64          `json:"offsetMs"`
	TickIndex int            `json:"tickIndex"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
}

// TickResult reports where a tick landed.
type TickResult struct {
	TickIndex int
	Timestamp time.Time
}

// Timeline is not safe for concurrent use; the session actor owns it.
type Timeline struct {
	base   Timebase
	series map[string][]*float64
	events []Event
	logger logger.Logger
}

// Option applies a configuration option to the Timeline.
type Option func(*Timeline)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Timeline) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates an empty timeline anchored at start.
func New(start time.Time, interval time.Duration, opts ...Option) (*Timeline, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	t := &Timeline{
		base:   Timebase{StartTime: start, Interval: interval},
		series: make(map[string][]*float64),
		logger: logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("timeline")
	return t, nil
}

// Reset re-anchors the timeline and clears all series and events.
func (t *Timeline) Reset(start time.Time, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	t.base = Timebase{StartTime: start, Interval: interval}
	t.series = make(map[string][]*float64)
	t.events = nil
	return nil
}

// Timebase returns the current grid description.
func (t *Timeline) Timebase() Timebase { return t.base }

// TickCount returns the number of recorded ticks.
func (t *Timeline) TickCount() int { return t.base.TickCount }

// TickTimestamp returns the nominal timestamp of tick index, never earlier than StartTime.
func (t *Timeline) TickTimestamp(index int) time.Time {
	if index < 0 {
		index = 0
	}
	return t.base.StartTime.Add(time.Duration(index) * t.base.Interval)
}

// TickIndexFor maps ts onto the grid: floor((ts-start)/interval), clamped to >= 0.
func (t *Timeline) TickIndexFor(ts time.Time) int {
	elapsed := ts.Sub(t.base.StartTime)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / t.base.Interval)
}

// Tick records snapshot at the current tick index and null-fills every other
// known series. A zero ts selects the nominal tick timestamp.
func (t *Timeline) Tick(snapshot map[string]*float64, ts time.Time) TickResult {
	idx := t.base.TickCount
	if ts.IsZero() {
		ts = t.TickTimestamp(idx)
	}
	if ts.Before(t.base.StartTime) {
		ts = t.base.StartTime
	}

	for key, v := range snapshot {
		s, ok := t.series[key]
		if !ok {
			s = make([]*float64, idx, idx+1)
		}
		t.series[key] = append(s, copyValue(v))
	}
	for key, s := range t.series {
		if len(s) < idx+1 {
			// Known key not updated this tick; also repairs any short series.
			for len(s) < idx+1 {
				s = append(s, nil)
			}
			t.series[key] = s
		}
	}

	t.base.TickCount = idx + 1
	return TickResult{TickIndex: idx, Timestamp: ts}
}

// LogEvent appends an event; a zero ts uses the current nominal tick time.
func (t *Timeline) LogEvent(eventType string, data map[string]any, ts time.Time) Event {
	if ts.IsZero() {
		ts = t.TickTimestamp(t.base.TickCount)
	}
	offset := ts.Sub(t.base.StartTime)
	if offset < 0 {
		offset = 0
	}
	e := Event{
		Timestamp: ts,
		OffsetMs:  offset.Milliseconds(),
		TickIndex: t.TickIndexFor(ts),
		Type:      eventType,
		Data:      data,
	}
	t.events = append(t.events, e)
	t.logger.Debug(context.Background(), "event logged",
		logger.String("type", eventType),
		logger.Int("tick", e.TickIndex),
	)
	return e
}

// Events returns a copy of the event log.
func (t *Timeline) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Series returns a copy of the series stored under key.
func (t *Timeline) Series(key string) ([]*float64, bool) {
	s, ok := t.series[key]
	if !ok {
		return nil, false
	}
	return copySeries(s), true
}

// Latest returns the last non-null value of key.
func (t *Timeline) Latest(key string) (float64, bool) {
	s := t.series[key]
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != nil {
			return *s[i], true
		}
	}
	return 0, false
}

// Keys returns every series key in sorted order.
func (t *Timeline) Keys() []string {
	keys := make([]string, 0, len(t.series))
	for k := range t.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns deep copies of every series.
func (t *Timeline) Snapshot() map[string][]*float64 {
	out := make(map[string][]*float64, len(t.series))
	for k, s := range t.series {
		out[k] = copySeries(s)
	}
	return out
}

// CheckAlignment verifies that every series has exactly TickCount slots.
func (t *Timeline) CheckAlignment() error {
	for k, s := range t.series {
		if len(s) != t.base.TickCount {
			return fmt.Errorf("series %q has %d slots, expected %d", k, len(s), t.base.TickCount)
		}
	}
	return nil
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copySeries(s []*float64) []*float64 {
	out := make([]*float64, len(s))
	for i, v := range s {
		out[i] = copyValue(v)
	}
	return out
}
