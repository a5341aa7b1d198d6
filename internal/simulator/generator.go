package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Curve constants for synthetic riders.
const (
	restingMin   = 58.0
	restingRange = 14.0
	peakMin      = 150.0
	peakRange    = 35.0
	warmup       = 3 * time.Minute
	intervalLen  = 90 * time.Second
	intervalAmp  = 12.0
	jitterAmp    = 3.0
	maxHeartRate = 210.0
	rpmPerBeat   = 0.55
	wattsPerRPM  = 2.4
)

// Rider is one synthetic participant with a heart-rate strap and a bike.
type Rider struct {
	ID       string
	Name     string
	StrapID  string
	BikeID   string
	Resting  float64
	Peak     float64
	phase    float64
	rng      *rand.Rand
	distance float64
}

// Sample is the POST /samples body.
type Sample struct {
	DeviceID  string   `json:"device_id"`
	Type      string   `json:"type"`
	HeartRate *float64 `json:"heart_rate,omitempty"`
	RPM       *float64 `json:"rpm,omitempty"`
	Power     *float64 `json:"power,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
}

// NewRiders builds n riders with reproducible curves for seed.
func NewRiders(n int, seed uint64) []*Rider {
	riders := make([]*Rider, n)
	for i := range riders {
		rng := rand.New(rand.NewPCG(seed, uint64(i)))
		riders[i] = &Rider{
			ID:      fmt.Sprintf("rider_%02d", i+1),
			Name:    fmt.Sprintf("Rider %d", i+1),
			StrapID: fmt.Sprintf("hr-%d", 1000+i),
			BikeID:  fmt.Sprintf("bike-%d", 1000+i),
			Resting: restingMin + rng.Float64()*restingRange,
			Peak:    peakMin + rng.Float64()*peakRange,
			phase:   rng.Float64() * 2 * math.Pi,
			rng:     rng,
		}
	}
	return riders
}

// HeartRate is the rider's heart rate at elapsed into the class: a warm-up
// ramp, then intervals around the peak, plus jitter.
func (r *Rider) HeartRate(elapsed time.Duration) float64 {
	ramp := math.Min(1, float64(elapsed)/float64(warmup))
	base := r.Resting + (r.Peak-r.Resting)*ramp
	wave := intervalAmp * ramp * math.Sin(2*math.Pi*float64(elapsed)/float64(intervalLen)+r.phase)
	jitter := (r.rng.Float64()*2 - 1) * jitterAmp
	return math.Round(math.Max(r.Resting-jitterAmp, math.Min(maxHeartRate, base+wave+jitter)))
}

// Samples returns the strap and bike readings for one round.
func (r *Rider) Samples(elapsed, step time.Duration) []Sample {
	hr := r.HeartRate(elapsed)
	rpm := math.Round(math.Max(0, (hr-r.Resting)*rpmPerBeat+40))
	power := math.Round(rpm * wattsPerRPM)
	r.distance += rpm * step.Minutes() * 6 // meters, six per pedal turn
	dist := math.Round(r.distance)
	return []Sample{
		{DeviceID: r.StrapID, Type: "heart_rate", HeartRate: &hr},
		{DeviceID: r.BikeID, Type: "bike", RPM: &rpm, Power: &power, Distance: &dist},
	}
}
