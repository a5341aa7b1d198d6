// Package collector turns the device registry into one tick's worth of series values.
package collector

import (
	"context"
	"sort"
	"time"

	"github.com/okian/pulse/internal/domain/device"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/serieskey"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Metric names written by the collector.
const (
	MetricHeartRate  = "heart_rate"
	MetricZoneID     = "zone_id"
	MetricRPM        = "rpm"
	MetricPower      = "power"
	MetricDistance   = "distance"
	MetricHeartBeats = "heart_beats"
	MetricRotations  = "rotations"
)

// Resolver maps a device to the participant currently using it.
type Resolver interface {
	Resolve(deviceID string) identity.Resolution
}

// Participant is the merged reading staged for one participant this tick.
type Participant struct {
	ID        string
	Name      string
	Guest     bool
	Devices   []string
	HeartRate *float64
	RPM       *float64
	Power     *float64
	Distance  *float64
	ZoneID    string
	Active    bool
}

// Result is the output of one collection pass.
type Result struct {
	Values       map[string]*float64
	Participants map[string]*Participant
	Active       []string
	Dropped      []string
}

// Collector is not safe for concurrent use; the session actor owns it.
type Collector struct {
	resolver   Resolver
	zones      *zone.Table
	logger     logger.Logger
	rotations  map[string]float64
	heartBeats map[string]float64
}

// Option applies a configuration option to the Collector.
type Option func(*Collector)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a collector.
func New(resolver Resolver, zones *zone.Table, opts ...Option) *Collector {
	c := &Collector{
		resolver:   resolver,
		zones:      zones,
		logger:     logger.GetOrNop(),
		rotations:  make(map[string]float64),
		heartBeats: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("collector")
	return c
}

// Collect reads devices, sanitizes their readings and stages per-participant
// values. Malformed keys are dropped and reported, never returned as errors.
func (c *Collector) Collect(ctx context.Context, devices []device.Device, interval time.Duration) Result {
	seconds := interval.Seconds()
	values := make(map[string]*float64)
	staged := make(map[string]*Participant)
	var order []string

	for _, d := range devices {
		hr := HeartRate(d.Metrics.HeartRate)
		rpm := RPM(d.Metrics.RPM)
		power := Power(d.Metrics.Power)
		dist := Distance(d.Metrics.Distance)

		if hr != nil || rpm != nil || power != nil || dist != nil {
			put(values, serieskey.ScopeDevice, d.ID, MetricHeartRate, hr)
			put(values, serieskey.ScopeDevice, d.ID, MetricRPM, rpm)
			put(values, serieskey.ScopeDevice, d.ID, MetricPower, power)
			put(values, serieskey.ScopeDevice, d.ID, MetricDistance, dist)
		}
		if rpm != nil {
			if *rpm > 0 {
				c.rotations[d.ID] += *rpm / 60 * seconds
			}
			total := c.rotations[d.ID]
			values[key(serieskey.ScopeDevice, d.ID, MetricRotations)] = &total
		}

		if c.resolver == nil {
			continue
		}
		res := c.resolver.Resolve(d.ID)
		if res.Fallback() {
			continue
		}
		p, ok := staged[res.ParticipantID]
		if !ok {
			p = &Participant{ID: res.ParticipantID, Name: res.Name, Guest: res.Guest}
			staged[res.ParticipantID] = p
			order = append(order, res.ParticipantID)
		}
		p.Devices = append(p.Devices, d.ID)
		p.HeartRate = firstSet(p.HeartRate, hr)
		p.RPM = firstSet(p.RPM, rpm)
		p.Power = firstSet(p.Power, power)
		p.Distance = firstSet(p.Distance, dist)
	}

	var active []string
	for _, id := range order {
		p := staged[id]
		hr := 0.0
		if p.HeartRate != nil {
			hr = *p.HeartRate
		}
		c.heartBeats[id] += hr / 60 * seconds
		beats := c.heartBeats[id]
		values[key(serieskey.ScopeUser, id, MetricHeartBeats)] = &beats

		if p.HeartRate == nil && p.RPM == nil && p.Power == nil && p.Distance == nil {
			continue
		}
		p.Active = true
		active = append(active, id)

		values[key(serieskey.ScopeUser, id, MetricHeartRate)] = p.HeartRate
		values[key(serieskey.ScopeUser, id, MetricZoneID)] = c.zoneIndex(p)
		values[key(serieskey.ScopeUser, id, MetricRPM)] = p.RPM
		values[key(serieskey.ScopeUser, id, MetricPower)] = p.Power
		values[key(serieskey.ScopeUser, id, MetricDistance)] = p.Distance
	}
	sort.Strings(active)

	clean, dropped := serieskey.Filter(values)
	if len(dropped) > 0 {
		metrics.RecordDroppedKeys(len(dropped))
		c.logger.Warn(ctx, "dropped malformed series keys",
			logger.Strings("keys", dropped),
			logger.Int("count", len(dropped)),
		)
	}

	return Result{Values: clean, Participants: staged, Active: active, Dropped: dropped}
}

// HeartBeats returns the cumulative beat count integrated for participantID.
func (c *Collector) HeartBeats(participantID string) float64 {
	return c.heartBeats[participantID]
}

// Reset clears every cumulative integral.
func (c *Collector) Reset() {
	c.rotations = make(map[string]float64)
	c.heartBeats = make(map[string]float64)
}

func (c *Collector) zoneIndex(p *Participant) *float64 {
	if p.HeartRate == nil || c.zones == nil {
		return nil
	}
	z, ok := c.zones.Resolve(p.ID, *p.HeartRate)
	if !ok {
		return nil
	}
	p.ZoneID = z.ID
	idx := float64(c.zones.Index(z.ID))
	return &idx
}

func put(values map[string]*float64, scope serieskey.Scope, subject, metric string, v *float64) {
	values[key(scope, subject, metric)] = v
}

// key renders without validating; Filter strips anything malformed afterwards.
func key(scope serieskey.Scope, subject, metric string) string {
	return serieskey.Key{Scope: scope, Subject: subject, Metric: metric}.String()
}

func firstSet(current, candidate *float64) *float64 {
	if current != nil {
		return current
	}
	return candidate
}
