package summary

import (
	"math"
	"strings"

	"github.com/okian/pulse/internal/domain/timeline"
)

// Metrics that are running totals and keep one decimal when encoded.
var counterMetrics = map[string]struct{}{
	"heart_beats": {},
	"rotations":   {},
	"distance":    {},
	"coins":       {},
	"coins_total": {},
}

// EncodedTimeline is the compacted timeline section.
type EncodedTimeline struct {
	Timebase Timebase         `json:"timebase"`
	Series   map[string][]any `json:"series"`
	Events   []timeline.Event `json:"events"`
}

// Payload is the outbound form of a Summary. Its Timeline field shadows the
// full-resolution one.
type Payload struct {
	Summary
	Timeline EncodedTimeline `json:"timeline"`
}

// Encode compacts every series of s.
func Encode(s Summary) Payload {
	return Payload{
		Summary: s,
		Timeline: EncodedTimeline{
			Timebase: s.Timeline.Timebase,
			Series:   EncodeSeries(s.Timeline.Series),
			Events:   s.Timeline.Events,
		},
	}
}

// EncodeSeries rounds each value for its metric and collapses runs of equal
// values into [value, count] pairs.
func EncodeSeries(series map[string][]*float64) map[string][]any {
	out := make(map[string][]any, len(series))
	for key, values := range series {
		out[key] = encodeOne(values, roundingFor(key))
	}
	return out
}

// CountPoints returns the number of serialized entries.
func CountPoints(encoded map[string][]any) int {
	n := 0
	for _, s := range encoded {
		n += len(s)
	}
	return n
}

func encodeOne(values []*float64, round func(float64) float64) []any {
	out := make([]any, 0, len(values))
	for i := 0; i < len(values); {
		cur := roundPtr(values[i], round)
		j := i + 1
		for j < len(values) && samePtr(cur, roundPtr(values[j], round)) {
			j++
		}
		var v any
		if cur != nil {
			v = *cur
		}
		if run := j - i; run > 1 {
			out = append(out, []any{v, run})
		} else {
			out = append(out, v)
		}
		i = j
	}
	return out
}

func roundingFor(key string) func(float64) float64 {
	metric := key[strings.LastIndex(key, ":")+1:]
	if _, ok := counterMetrics[metric]; ok {
		return func(v float64) float64 { return math.Round(v*10) / 10 }
	}
	return math.Round
}

func roundPtr(v *float64, round func(float64) float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	r := round(*v)
	return &r
}

func samePtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
