package summary_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/timeline"
	. "github.com/smartystreets/goconvey/convey"
)

func f(v float64) *float64 { return &v }

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func withTicks(n int, series map[string][]*float64) summary.Summary {
	return summary.Summary{
		SessionID:  "20260301180000",
		StartTime:  t0,
		EndTime:    t0.Add(time.Minute),
		DurationMs: 60000,
		Timeline: summary.Timeline{
			Timebase: summary.Timebase{StartTime: t0, IntervalMs: 5000, TickCount: n},
			Series:   series,
		},
	}
}

func filled(n int) []*float64 {
	s := make([]*float64, n)
	for i := range s {
		s[i] = f(120)
	}
	return s
}

func TestValidate(t *testing.T) {
	limits := summary.DefaultLimits()

	Convey("Given a summary with only two ticks", t, func() {
		err := summary.Validate(withTicks(2, map[string][]*float64{"user:kckern:heart_rate": filled(2)}), limits)

		Convey("Then it is rejected as insufficient-ticks", func() {
			var verr *summary.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.Reason, ShouldEqual, "insufficient-ticks")
			So(errors.Is(err, summary.ErrInsufficientTicks), ShouldBeTrue)
		})
	})

	Convey("Given five ticks but a series of length four", t, func() {
		err := summary.Validate(withTicks(5, map[string][]*float64{
			"user:kckern:heart_rate": filled(5),
			"user:kckern:power":      filled(4),
		}), limits)

		Convey("Then it is rejected as series-tick-mismatch", func() {
			So(errors.Is(err, summary.ErrSeriesTickMismatch), ShouldBeTrue)
			So(errors.Is(err, summary.ErrInsufficientTicks), ShouldBeFalse)
		})
	})

	Convey("Given more points than the cap", t, func() {
		series := map[string][]*float64{}
		for _, k := range []string{"user:a:heart_rate", "user:b:heart_rate"} {
			s := make([]*float64, 5)
			for i := range s {
				s[i] = f(float64(100 + i))
			}
			series[k] = s
		}
		err := summary.Validate(withTicks(5, series), summary.Limits{MinTicks: 3, MaxPoints: 9})
		So(errors.Is(err, summary.ErrTooManyPoints), ShouldBeTrue)
	})

	Convey("Given a short session with no participant data", t, func() {
		s := withTicks(3, map[string][]*float64{"global:active_count": filled(3)})
		s.DurationMs = 4000
		s.Timeline.Events = []timeline.Event{{Type: "session_started"}}

		Convey("Then it is spam", func() {
			So(errors.Is(summary.Validate(s, limits), summary.ErrSpamSession), ShouldBeTrue)
		})

		Convey("Unless a voice memo was recorded", func() {
			s.VoiceMemos = []summary.VoiceMemo{{ID: "m1", Transcript: "felt great"}}
			So(summary.Validate(s, limits), ShouldBeNil)
		})

		Convey("Unless a non-lifecycle event was logged", func() {
			s.Timeline.Events = append(s.Timeline.Events, timeline.Event{Type: "device_assigned"})
			So(summary.Validate(s, limits), ShouldBeNil)
		})
	})

	Convey("Given a well-formed session", t, func() {
		So(summary.Validate(withTicks(5, map[string][]*float64{"user:kckern:heart_rate": filled(5)}), limits), ShouldBeNil)
	})
}

func TestEncodeSeries(t *testing.T) {
	Convey("Given series with runs, nulls and fractional values", t, func() {
		enc := summary.EncodeSeries(map[string][]*float64{
			"user:kckern:heart_rate":  {f(120.4), f(119.6), f(121), nil, nil, f(130)},
			"user:kckern:heart_beats": {f(10.04), f(20.16), f(20.21)},
		})

		Convey("Then instantaneous metrics round to integers and runs collapse", func() {
			So(enc["user:kckern:heart_rate"], ShouldResemble, []any{
				[]any{120.0, 2}, 121.0, []any{nil, 2}, 130.0,
			})
		})

		Convey("Then counters keep one decimal", func() {
			So(enc["user:kckern:heart_beats"], ShouldResemble, []any{10.0, []any{20.2, 2}})
		})

		Convey("Then the point count reflects the compacted form", func() {
			So(summary.CountPoints(enc), ShouldEqual, 6)
		})
	})

	Convey("Given a full summary", t, func() {
		s := withTicks(3, map[string][]*float64{"user:kckern:heart_rate": {f(100), f(100), f(100)}})
		data, err := json.Marshal(summary.Encode(s))
		So(err, ShouldBeNil)

		Convey("Then the payload carries the compacted timeline under the same field", func() {
			var raw map[string]any
			So(json.Unmarshal(data, &raw), ShouldBeNil)
			tl := raw["timeline"].(map[string]any)
			series := tl["series"].(map[string]any)
			So(series["user:kckern:heart_rate"], ShouldResemble, []any{[]any{100.0, 3.0}})
			So(raw["sessionId"], ShouldEqual, "20260301180000")
		})
	})
}
