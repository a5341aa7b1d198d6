// Package summary assembles, validates and compacts the session snapshot
// handed to storage.
package summary

import (
	"time"

	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/timeline"
)

// Timebase is the wire form of the tick grid.
type Timebase struct {
	StartTime  time.Time `json:"startTime"`
	IntervalMs int64     `json:"intervalMs"`
	TickCount  int       `json:"tickCount"`
}

// Timeline is the full-resolution timeline section.
type Timeline struct {
	Timebase Timebase              `json:"timebase"`
	Series   map[string][]*float64 `json:"series"`
	Events   []timeline.Event      `json:"events"`
}

// RosterEntry is one participant as seen at save time.
type RosterEntry struct {
	ParticipantID string   `json:"participantId"`
	Name          string   `json:"name"`
	Guest         bool     `json:"guest"`
	Devices       []string `json:"devices"`
	Active        bool     `json:"active"`
	Status        string   `json:"status"`
	Coins         int      `json:"coins"`
	HeartRate     *float64 `json:"heartRate,omitempty"`
	ZoneID        string   `json:"zoneId,omitempty"`
}

// VoiceMemo is a note recorded during the session.
type VoiceMemo struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	OffsetMs      int64     `json:"offsetMs"`
	DurationMs    int64     `json:"durationMs"`
	Transcript    string    `json:"transcript"`
}

// Summary is the complete session snapshot.
type Summary struct {
	SessionID         string                `json:"sessionId"`
	StartTime         time.Time             `json:"startTime"`
	EndTime           time.Time             `json:"endTime"`
	DurationMs        int64                 `json:"durationMs"`
	Roster            []RosterEntry         `json:"roster"`
	DeviceAssignments []identity.Assignment `json:"deviceAssignments"`
	Entities          []entity.Entity       `json:"entities"`
	RewardSummary     reward.Summary        `json:"rewardSummary"`
	Timeline          Timeline              `json:"timeline"`
	VoiceMemos        []VoiceMemo           `json:"voiceMemos"`
}

// FromTimeline captures tl as a summary timeline section.
func FromTimeline(tl *timeline.Timeline) Timeline {
	base := tl.Timebase()
	return Timeline{
		Timebase: Timebase{
			StartTime:  base.StartTime,
			IntervalMs: base.Interval.Milliseconds(),
			TickCount:  base.TickCount,
		},
		Series: tl.Snapshot(),
		Events: tl.Events(),
	}
}
