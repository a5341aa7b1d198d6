package collector

import "math"

// Heart-rate bounds accepted from sensors, in BPM.
const (
	MinHeartRate = 30
	MaxHeartRate = 250
)

// Rule turns a raw reading into a usable value, or nil when it is unusable.
type Rule func(raw *float64) *float64

// Named sanitation rules.
var (
	HeartRate Rule = sanitizeHeartRate
	RPM       Rule = nonNegative
	Power     Rule = nonNegative
	Distance  Rule = nonNegative
)

func sanitizeHeartRate(raw *float64) *float64 {
	if raw == nil || !finite(*raw) {
		return nil
	}
	v := math.Round(*raw)
	if v < MinHeartRate || v > MaxHeartRate {
		return nil
	}
	return &v
}

func nonNegative(raw *float64) *float64 {
	if raw == nil || !finite(*raw) || *raw < 0 {
		return nil
	}
	v := *raw
	return &v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
