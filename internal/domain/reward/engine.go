// Package reward implements the zone-based coin engine.
//
// One Accumulator exists per tracking key, where a key is either a session
// entity id or, when no entity is mapped, a participant id. Each accumulator
// remembers the highest zone reached in the current interval and is credited
// that zone's coins when the interval elapses, provided the participant was
// active.
package reward

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// ActivityChecker reports whether a profile is presently broadcasting.
type ActivityChecker interface {
	IsActive(profileID string) bool
}

// Accumulator is the interval state of one tracking key.
type Accumulator struct {
	Key                  string     `json:"key"`
	ProfileID            string     `json:"profileId"`
	CurrentIntervalStart time.Time  `json:"currentIntervalStart"`
	HighestZone          *zone.Zone `json:"highestZone,omitempty"`
	LastHR               float64    `json:"lastHR"`
	CurrentColor         string     `json:"currentColor"`
	LastColor            string     `json:"lastColor"`
	LastZoneID           string     `json:"lastZoneId"`
	TotalCoins           int        `json:"totalCoins"`
	LastAwardedAt        time.Time  `json:"lastAwardedAt,omitempty"`
	Transferred          bool       `json:"transferred"`
	TransferredTo        string     `json:"transferredTo,omitempty"`
}

// Award describes one credit.
type Award struct {
	Key       string    `json:"key"`
	ProfileID string    `json:"profileId"`
	ZoneID    string    `json:"zoneId"`
	Color     string    `json:"color"`
	Coins     int       `json:"coins"`
	At        time.Time `json:"at"`
}

// Summary is the reward state exposed to the UI and persisted with the session.
type Summary struct {
	Buckets       map[string]int   `json:"buckets"`
	TotalCoins    int              `json:"totalCoins"`
	BucketWidthMs int64            `json:"bucketWidthMs"`
	ColorTimeline map[string][]int `json:"colorTimeline"`
	Accumulators  []Accumulator    `json:"accumulators"`
}

// Engine is not safe for concurrent use; the session actor owns it.
type Engine struct {
	zones       *zone.Table
	interval    time.Duration
	bucketWidth time.Duration
	start       time.Time
	activity    ActivityChecker
	logger      logger.Logger

	accumulators  map[string]*Accumulator
	deviceEntity  map[string]string
	buckets       map[string]int
	total         int
	colorTimeline map[string][]int
}

// New creates an engine for a session starting at start.
func New(zones *zone.Table, start time.Time, opts ...Option) (*Engine, error) {
	e := &Engine{
		zones:       zones,
		interval:    5 * time.Second,
		bucketWidth: 5 * time.Second,
		logger:      logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.interval <= 0 {
		return nil, ErrInvalidInterval
	}
	e.logger = e.logger.Named("reward")
	e.Reset(start)
	return e, nil
}

// Reset clears every accumulator and total and re-anchors the color timeline.
func (e *Engine) Reset(start time.Time) {
	e.start = start
	e.accumulators = make(map[string]*Accumulator)
	e.deviceEntity = make(map[string]string)
	e.buckets = make(map[string]int)
	e.total = 0
	e.colorTimeline = make(map[string][]int)
}

// Register creates the accumulator for key if it does not exist yet.
func (e *Engine) Register(key, profileID string, now time.Time) {
	if _, ok := e.accumulators[key]; ok {
		return
	}
	if profileID == "" {
		profileID = key
	}
	e.accumulators[key] = &Accumulator{
		Key:                  key,
		ProfileID:            profileID,
		CurrentIntervalStart: now,
		CurrentColor:         zone.NoZoneColor,
	}
}

// SetDeviceEntity routes future samples of deviceID to entityID.
func (e *Engine) SetDeviceEntity(deviceID, entityID string) {
	e.deviceEntity[deviceID] = entityID
}

// ClearDeviceEntity removes the routing for deviceID.
func (e *Engine) ClearDeviceEntity(deviceID string) {
	delete(e.deviceEntity, deviceID)
}

// EntityForDevice returns the entity deviceID is routed to.
func (e *Engine) EntityForDevice(deviceID string) (string, bool) {
	id, ok := e.deviceEntity[deviceID]
	return id, ok
}

// RecordForDevice records hr for the entity mapped to deviceID, or for
// fallbackKey when the device has no entity.
func (e *Engine) RecordForDevice(deviceID string, hr float64, fallbackKey string, now time.Time) *Award {
	if entityID, ok := e.deviceEntity[deviceID]; ok {
		return e.RecordSample(entityID, hr, now)
	}
	if fallbackKey == "" {
		return nil
	}
	return e.RecordSample(fallbackKey, hr, now)
}

// RecordSample folds one heart-rate reading into key's interval.
func (e *Engine) RecordSample(key string, hr float64, now time.Time) *Award {
	acc, ok := e.accumulators[key]
	if !ok {
		e.Register(key, key, now)
		acc = e.accumulators[key]
	}
	if acc.Transferred {
		return nil
	}

	acc.LastColor = acc.CurrentColor
	if hr <= 0 || math.IsNaN(hr) || math.IsInf(hr, 0) {
		acc.LastHR = 0
		acc.CurrentIntervalStart = now
		acc.HighestZone = nil
		acc.CurrentColor = zone.NoZoneColor
		acc.LastZoneID = ""
		return nil
	}

	acc.LastHR = hr
	z, matched := e.zones.Resolve(acc.ProfileID, hr)
	if matched {
		acc.CurrentColor = z.Color
		acc.LastZoneID = z.ID
		if acc.HighestZone == nil || e.zones.Threshold(acc.ProfileID, z) > e.zones.Threshold(acc.ProfileID, *acc.HighestZone) {
			promoted := z
			acc.HighestZone = &promoted
		}
	} else {
		acc.CurrentColor = zone.NoZoneColor
		acc.LastZoneID = ""
	}

	if now.Sub(acc.CurrentIntervalStart) < e.interval {
		return nil
	}
	award := e.award(acc, now)
	e.startInterval(acc, now)
	return award
}

// ProcessTick applies the per-tick gate: accumulators absent from active lose
// their interval progress without awarding; present ones whose interval has
// elapsed are credited and start a fresh interval.
func (e *Engine) ProcessTick(active []string, now time.Time) []Award {
	set := make(map[string]struct{}, len(active))
	for _, k := range active {
		set[k] = struct{}{}
	}

	var awards []Award
	for _, key := range e.sortedKeys() {
		acc := e.accumulators[key]
		if acc.Transferred {
			continue
		}
		if _, ok := set[key]; !ok {
			acc.HighestZone = nil
			acc.CurrentColor = zone.NoZoneColor
			continue
		}
		if now.Sub(acc.CurrentIntervalStart) < e.interval {
			continue
		}
		if a := e.award(acc, now); a != nil {
			awards = append(awards, *a)
		}
		e.startInterval(acc, now)
	}
	return awards
}

// Transfer moves from's coins and in-flight interval into to. The grand
// total is unchanged.
func (e *Engine) Transfer(from, to string) error {
	if from == to {
		return ErrSelfTransfer
	}
	src, ok := e.accumulators[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, from)
	}
	dst, ok := e.accumulators[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, to)
	}
	if src.Transferred {
		return fmt.Errorf("%w: %s", ErrAlreadyTransferred, from)
	}

	dst.TotalCoins += src.TotalCoins
	if dst.HighestZone == nil && src.HighestZone != nil {
		z := *src.HighestZone
		dst.HighestZone = &z
		dst.LastHR = src.LastHR
		dst.CurrentColor = src.CurrentColor
		dst.LastColor = src.LastColor
		dst.LastZoneID = src.LastZoneID
		if src.CurrentIntervalStart.Before(dst.CurrentIntervalStart) {
			dst.CurrentIntervalStart = src.CurrentIntervalStart
		}
	}
	if src.LastAwardedAt.After(dst.LastAwardedAt) {
		dst.LastAwardedAt = src.LastAwardedAt
	}

	src.TotalCoins = 0
	src.HighestZone = nil
	src.CurrentColor = zone.NoZoneColor
	src.Transferred = true
	src.TransferredTo = to

	metrics.RecordTransfer()
	e.logger.Debug(context.Background(), "accumulator transferred",
		logger.String("from", from),
		logger.String("to", to),
		logger.Int("coins", dst.TotalCoins),
	)
	return nil
}

// Accumulator returns a copy of key's state.
func (e *Engine) Accumulator(key string) (Accumulator, bool) {
	acc, ok := e.accumulators[key]
	if !ok {
		return Accumulator{}, false
	}
	return copyAccumulator(acc), true
}

// Accumulators returns copies of every accumulator sorted by key.
func (e *Engine) Accumulators() []Accumulator {
	out := make([]Accumulator, 0, len(e.accumulators))
	for _, k := range e.sortedKeys() {
		out = append(out, copyAccumulator(e.accumulators[k]))
	}
	return out
}

// ProfileCoins sums the coins of every accumulator belonging to profileID.
// Transferred accumulators hold zero and never contribute.
func (e *Engine) ProfileCoins(profileID string) int {
	sum := 0
	for _, acc := range e.accumulators {
		if acc.ProfileID == profileID {
			sum += acc.TotalCoins
		}
	}
	return sum
}

// Total returns the grand total of coins awarded in the session.
func (e *Engine) Total() int { return e.total }

// Summary returns bucket totals, the grand total and the color timeline
// padded so every color covers the same number of buckets.
func (e *Engine) Summary() Summary {
	buckets := make(map[string]int, len(e.buckets))
	for c, v := range e.buckets {
		buckets[c] = v
	}
	width := 0
	for _, s := range e.colorTimeline {
		if len(s) > width {
			width = len(s)
		}
	}
	timeline := make(map[string][]int, len(e.colorTimeline))
	for c, s := range e.colorTimeline {
		padded := make([]int, width)
		copy(padded, s)
		for i := len(s); i < width; i++ {
			padded[i] = s[len(s)-1]
		}
		timeline[c] = padded
	}
	return Summary{
		Buckets:       buckets,
		TotalCoins:    e.total,
		BucketWidthMs: e.bucketWidth.Milliseconds(),
		ColorTimeline: timeline,
		Accumulators:  e.Accumulators(),
	}
}

func (e *Engine) award(acc *Accumulator, now time.Time) *Award {
	if acc.HighestZone == nil || acc.HighestZone.Coins <= 0 {
		return nil
	}
	if e.activity != nil && !e.activity.IsActive(acc.ProfileID) {
		metrics.RecordAwardSuppressed()
		e.logger.Debug(context.Background(), "award suppressed for inactive participant",
			logger.String("key", acc.Key),
			logger.String("profile", acc.ProfileID),
		)
		return nil
	}

	z := *acc.HighestZone
	e.buckets[z.Color] += z.Coins
	e.total += z.Coins
	acc.TotalCoins += z.Coins
	acc.LastAwardedAt = now
	e.appendColorTimeline(z.Color, now)

	metrics.RecordCoinsAwarded(z.Color, z.Coins)
	e.logger.Debug(context.Background(), "coins awarded",
		logger.String("key", acc.Key),
		logger.String("zone", z.ID),
		logger.Int("coins", z.Coins),
		logger.Int("total", acc.TotalCoins),
	)
	return &Award{Key: acc.Key, ProfileID: acc.ProfileID, ZoneID: z.ID, Color: z.Color, Coins: z.Coins, At: now}
}

func (e *Engine) appendColorTimeline(color string, now time.Time) {
	idx := 0
	if elapsed := now.Sub(e.start); elapsed > 0 {
		idx = int(elapsed / e.bucketWidth)
	}
	s := e.colorTimeline[color]
	prev := 0
	if len(s) > 0 {
		prev = s[len(s)-1]
	}
	for len(s) <= idx {
		s = append(s, prev)
	}
	s[idx] = e.buckets[color]
	e.colorTimeline[color] = s
}

func (e *Engine) startInterval(acc *Accumulator, now time.Time) {
	acc.CurrentIntervalStart = now
	acc.HighestZone = nil
}

func (e *Engine) sortedKeys() []string {
	keys := make([]string, 0, len(e.accumulators))
	for k := range e.accumulators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyAccumulator(acc *Accumulator) Accumulator {
	c := *acc
	if acc.HighestZone != nil {
		z := *acc.HighestZone
		c.HighestZone = &z
	}
	return c
}
