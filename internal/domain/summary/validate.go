package summary

import (
	"strings"
	"time"
)

// Lifecycle event types that every session logs; they do not count as
// content when deciding whether a session is spam.
var lifecycleEvents = map[string]struct{}{
	"session_started": {},
	"session_ended":   {},
}

// Limits bounds what may be persisted.
type Limits struct {
	MinTicks     int
	MaxPoints    int
	SpamDuration time.Duration
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		MinTicks:     3,
		MaxPoints:    500000,
		SpamDuration: 10 * time.Second,
	}
}

// Validate returns a *ValidationError when s must not be persisted.
func Validate(s Summary, limits Limits) error {
	ticks := s.Timeline.Timebase.TickCount
	if ticks < limits.MinTicks {
		return reject(ReasonInsufficientTicks, "%d ticks recorded, need %d", ticks, limits.MinTicks)
	}
	for key, series := range s.Timeline.Series {
		if len(series) != ticks {
			return reject(ReasonSeriesTickMismatch, "series %q has %d points for %d ticks", key, len(series), ticks)
		}
	}
	if limits.MaxPoints > 0 {
		if points := CountPoints(EncodeSeries(s.Timeline.Series)); points > limits.MaxPoints {
			return reject(ReasonTooManyPoints, "%d points exceed the cap of %d", points, limits.MaxPoints)
		}
	}
	if isSpam(s, limits) {
		return reject(ReasonSpamSession, "%dms with no participant data", s.DurationMs)
	}
	return nil
}

func isSpam(s Summary, limits Limits) bool {
	if time.Duration(s.DurationMs)*time.Millisecond >= limits.SpamDuration {
		return false
	}
	if len(s.VoiceMemos) > 0 {
		return false
	}
	for key := range s.Timeline.Series {
		if strings.HasPrefix(key, "user:") {
			return false
		}
	}
	for _, e := range s.Timeline.Events {
		if _, ok := lifecycleEvents[e.Type]; !ok {
			return false
		}
	}
	return true
}
