// Package session drives one fitness session at a time through its
// lifecycle: Idle, Buffering, Active and Ended.
//
// The Orchestrator is not safe for concurrent use. Hosts must serialize
// every call, samples, ticks, autosaves and admin requests alike, through
// a single actor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pulse/internal/clock"
	"github.com/okian/pulse/internal/domain/activity"
	"github.com/okian/pulse/internal/domain/collector"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/device"
	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/timeline"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// State of the orchestrator.
type State string

// Lifecycle states. Ended is transient: End finishes back in Idle.
const (
	StateIdle      State = "idle"
	StateBuffering State = "buffering"
	StateActive    State = "active"
	StateEnded     State = "ended"
)

var allStates = []string{string(StateIdle), string(StateBuffering), string(StateActive), string(StateEnded)}

// End triggers.
const (
	ReasonExplicit    = "explicit"
	ReasonInactivity  = "inactivity"
	ReasonEmptyRoster = "empty_roster"
	ReasonShutdown    = "shutdown"
)

// Timeline event types logged by the orchestrator.
const (
	EventSessionStarted    = "session_started"
	EventSessionEnded      = "session_ended"
	EventDeviceAssigned    = "device_assigned"
	EventDeviceUnassigned  = "device_unassigned"
	EventEntityTransferred = "entity_transferred"
	EventVoiceMemo         = "voice_memo"
)

// Persister receives validated summaries. Implementations must not block:
// a slow or failing store may never stall the tick pipeline.
type Persister interface {
	Persist(ctx context.Context, p summary.Payload, final bool)
}

// Scheduler fires Pump every tick interval and Autosave every autosave
// interval while a session is active. Stop must be synchronous.
type Scheduler interface {
	Start(tick, autosave time.Duration)
	Stop()
}

// TickReport is published after every recorded tick.
type TickReport struct {
	SessionID  string                `json:"sessionId"`
	TickIndex  int                   `json:"tickIndex"`
	Timestamp  time.Time             `json:"timestamp"`
	Active     []string              `json:"active"`
	Awards     []reward.Award        `json:"awards"`
	Roster     []summary.RosterEntry `json:"roster"`
	TotalCoins int                   `json:"totalCoins"`
	Buckets    map[string]int        `json:"buckets"`
	Dropped    []string              `json:"droppedKeys,omitempty"`
}

// SampleOutcome tells the caller what happened to one sample.
type SampleOutcome string

// Sample outcomes.
const (
	OutcomeDuplicate SampleOutcome = "duplicate"
	OutcomeIgnored   SampleOutcome = "ignored"
	OutcomeBuffered  SampleOutcome = "buffered"
	OutcomeStarted   SampleOutcome = "started"
	OutcomeRecorded  SampleOutcome = "recorded"
)

// EndResult describes a finished session.
type EndResult struct {
	SessionID string           `json:"sessionId"`
	Reason    string           `json:"reason"`
	TickCount int              `json:"tickCount"`
	Saved     bool             `json:"saved"`
	Rejection string           `json:"rejection,omitempty"`
	Discarded bool             `json:"discarded,omitempty"`
	Summary   *summary.Summary `json:"-"`
}

// Orchestrator owns every per-session collaborator.
type Orchestrator struct {
	cfg       Config
	clock     clock.Clock
	logger    logger.Logger
	persister Persister
	scheduler Scheduler
	onTick    func(TickReport)
	newID     func() string

	zones     *zone.Table
	directory *identity.Directory
	ledger    *identity.Ledger
	resolver  *identity.Resolver
	devices   *device.Registry
	dedupe    dedupe.Deduper
	monitor   *activity.Monitor

	state  State
	ending bool
	buffer []model.DeviceSample

	sessionID  string
	startedAt  time.Time
	timeline   *timeline.Timeline
	collector  *collector.Collector
	engine     *reward.Engine
	entities   *entity.Registry
	memos      []summary.VoiceMemo
	history    map[string]*summary.RosterEntry
	lastTick   collector.Result
	emptySince time.Time
	warned     map[string]struct{}
	hrSource   map[string]string // profile -> credited heart-rate device
	lastEnd    *EndResult
}

// New creates an idle orchestrator.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:    DefaultConfig(),
		clock:  clock.Real{},
		logger: logger.GetOrNop(),
		ledger: identity.NewLedger(),
		state:  StateIdle,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.zones == nil {
		t, err := zone.NewTable(nil)
		if err != nil {
			return nil, err
		}
		o.zones = t
	}
	if o.directory == nil {
		d, err := identity.NewDirectory(nil)
		if err != nil {
			return nil, err
		}
		o.directory = d
	}
	if o.dedupe == nil {
		o.dedupe = dedupe.NewInMemoryDeduper()
	}
	o.logger = o.logger.Named("session")
	o.resolver = identity.NewResolver(o.ledger, o.directory)
	o.devices = device.NewRegistry()
	o.monitor = activity.NewMonitor(activity.WithGraceTicks(o.cfg.DropoutGraceTicks))
	metrics.UpdateSessionState(string(o.state), allStates)
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// HandleSample ingests one device sample.
func (o *Orchestrator) HandleSample(ctx context.Context, s model.DeviceSample) (SampleOutcome, error) {
	if s.DeviceID == "" {
		metrics.RecordSampleRejected("invalid")
		return OutcomeIgnored, fmt.Errorf("%w: device id is required", ErrInvalidSample)
	}
	now := o.clock.Now()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	if o.dedupe.SeenAndRecord(ctx, s.DedupeKey()) {
		metrics.RecordSampleRejected("duplicate")
		return OutcomeDuplicate, nil
	}

	arrived := s
	arrived.Timestamp = now
	o.devices.Ingest(arrived)
	metrics.RecordSampleIngested(sampleType(s))

	validHR := collector.HeartRate(s.HeartRate) != nil
	switch o.state {
	case StateIdle:
		if !validHR {
			return OutcomeIgnored, nil
		}
		o.setState(StateBuffering)
		o.buffer = append(o.buffer, arrived)
		return o.maybeStart(ctx, now), nil
	case StateBuffering:
		if !validHR {
			return OutcomeIgnored, nil
		}
		o.pruneBuffer(ctx, now)
		o.buffer = append(o.buffer, arrived)
		return o.maybeStart(ctx, now), nil
	case StateActive:
		o.record(ctx, s.DeviceID, s.HeartRate, now)
		return OutcomeRecorded, nil
	default:
		return OutcomeIgnored, nil
	}
}

// pruneBuffer forgets buffered samples that arrived more than DeviceStale
// ago, so pings spread over a long quiet period never add up to a start.
func (o *Orchestrator) pruneBuffer(ctx context.Context, now time.Time) {
	if o.cfg.DeviceStale <= 0 {
		return
	}
	kept := o.buffer[:0]
	for _, b := range o.buffer {
		if now.Sub(b.Timestamp) <= o.cfg.DeviceStale {
			kept = append(kept, b)
		}
	}
	if n := len(o.buffer) - len(kept); n > 0 {
		o.logger.Debug(ctx, "dropped stale buffered samples", logger.Int("samples", n))
	}
	o.buffer = kept
}

func (o *Orchestrator) maybeStart(ctx context.Context, now time.Time) SampleOutcome {
	if len(o.buffer) < o.cfg.BufferThreshold {
		return OutcomeBuffered
	}
	if err := o.start(ctx, now); err != nil {
		o.logger.Error(ctx, "failed to start session", logger.Error(err))
		return OutcomeBuffered
	}
	return OutcomeStarted
}

func (o *Orchestrator) start(ctx context.Context, now time.Time) error {
	tl, err := timeline.New(now, o.cfg.TickInterval, timeline.WithLogger(o.logger))
	if err != nil {
		return err
	}
	engine, err := reward.New(o.zones, now,
		reward.WithInterval(o.cfg.CoinInterval),
		reward.WithBucketWidth(o.cfg.TickInterval),
		reward.WithActivity(o.monitor),
		reward.WithLogger(o.logger),
	)
	if err != nil {
		return err
	}

	o.sessionID = o.newID()
	o.startedAt = now
	o.timeline = tl
	o.engine = engine
	o.entities = entity.NewRegistry(engine,
		entity.WithMergeWindow(o.cfg.EntityMergeWindow),
		entity.WithLogger(o.logger),
	)
	o.collector = collector.New(o.resolver, o.zones, collector.WithLogger(o.logger))
	o.monitor.Reset()
	o.history = make(map[string]*summary.RosterEntry)
	o.warned = make(map[string]struct{})
	o.hrSource = make(map[string]string)
	o.memos = nil
	o.emptySince = time.Time{}
	o.lastTick = collector.Result{}

	buffered := o.buffer
	o.buffer = nil
	o.setState(StateActive)

	o.timeline.LogEvent(EventSessionStarted, map[string]any{
		"sessionId":       o.sessionID,
		"bufferedSamples": len(buffered),
	}, now)
	for _, s := range buffered {
		o.record(ctx, s.DeviceID, s.HeartRate, now)
	}

	if o.scheduler != nil {
		o.scheduler.Start(o.cfg.TickInterval, o.cfg.AutosaveInterval)
	}
	metrics.RecordSessionStarted()
	o.logger.Info(ctx, "session started",
		logger.String("session", o.sessionID),
		logger.Int("buffered", len(buffered)),
	)
	return nil
}

// record routes one heart-rate reading to the reward engine.
func (o *Orchestrator) record(ctx context.Context, deviceID string, raw *float64, now time.Time) {
	res := o.resolver.Resolve(deviceID)
	if !res.Fallback() {
		o.ensureEntity(ctx, res, now)
	}
	if raw == nil {
		return
	}
	if !res.Fallback() && !o.creditsHeartRate(res.ParticipantID, deviceID, now) {
		return
	}
	hr := 0.0
	if v := collector.HeartRate(raw); v != nil {
		hr = *v
	}
	fallback := ""
	if !res.Fallback() {
		fallback = res.ParticipantID
	}
	o.engine.RecordForDevice(deviceID, hr, fallback, now)
}

// creditsHeartRate reports whether deviceID is the one heart-rate source
// credited for profileID. The current source keeps the role while it is
// fresh, reads a usable heart rate and still belongs to the profile.
func (o *Orchestrator) creditsHeartRate(profileID, deviceID string, now time.Time) bool {
	if cur, ok := o.hrSource[profileID]; ok && cur != deviceID && o.sourceLive(profileID, cur, now) {
		return false
	}
	o.hrSource[profileID] = deviceID
	return true
}

func (o *Orchestrator) sourceLive(profileID, deviceID string, now time.Time) bool {
	d, ok := o.devices.Get(deviceID)
	if !ok || collector.HeartRate(d.Metrics.HeartRate) == nil {
		return false
	}
	if o.cfg.DeviceStale > 0 && now.Sub(d.LastSeen) > o.cfg.DeviceStale {
		return false
	}
	res := o.resolver.Resolve(deviceID)
	return !res.Fallback() && res.ParticipantID == profileID
}

// creditedKeys returns the accumulators that may award for an active
// profile this tick: its heart-rate source's segment when there is one.
func (o *Orchestrator) creditedKeys(profileID string) []string {
	if src, ok := o.hrSource[profileID]; ok {
		if e, ok := o.entities.ActiveForDevice(src); ok && e.ProfileID == profileID && e.Live() {
			return []string{profileID, e.ID}
		}
	}
	return append([]string{profileID}, o.entities.LiveIDsFor(profileID)...)
}

// ensureEntity opens a segment when a device is first seen for an identity,
// or when the identity occupying it changed.
func (o *Orchestrator) ensureEntity(ctx context.Context, res identity.Resolution, now time.Time) *entity.Created {
	if cur, ok := o.entities.ActiveForDevice(res.DeviceID); ok && cur.ProfileID == res.ParticipantID {
		return nil
	}
	created, err := o.entities.Create(entity.CreateRequest{
		ProfileID: res.ParticipantID,
		DeviceID:  res.DeviceID,
		StartTime: now,
	})
	if err != nil {
		o.logger.Warn(ctx, "failed to open entity",
			logger.String("device", res.DeviceID),
			logger.String("participant", res.ParticipantID),
			logger.Error(err),
		)
		return nil
	}
	o.remember(res)
	if created.Merged && created.Previous != nil {
		o.timeline.LogEvent(EventEntityTransferred, map[string]any{
			"from":   created.Previous.ID,
			"to":     created.Entity.ID,
			"reason": "merge_window",
		}, now)
	}
	return &created
}

func (o *Orchestrator) remember(res identity.Resolution) {
	entry, ok := o.history[res.ParticipantID]
	if !ok {
		entry = &summary.RosterEntry{ParticipantID: res.ParticipantID}
		o.history[res.ParticipantID] = entry
	}
	entry.Name = res.Name
	entry.Guest = res.Guest
	for _, d := range entry.Devices {
		if d == res.DeviceID {
			return
		}
	}
	entry.Devices = append(entry.Devices, res.DeviceID)
	sort.Strings(entry.Devices)
}

// End stops the active session, records a final tick, validates and hands
// the summary to the persister, then resets every collaborator. A call made
// while an end is already in progress is a no-op returning ErrEnding.
func (o *Orchestrator) End(ctx context.Context, reason string) (EndResult, error) {
	if o.ending {
		o.logger.Debug(ctx, "ignoring re-entrant end", logger.String("reason", reason))
		return EndResult{}, ErrEnding
	}
	switch o.state {
	case StateBuffering:
		n := len(o.buffer)
		o.resetAll()
		o.logger.Info(ctx, "discarded buffered samples", logger.Int("samples", n), logger.String("reason", reason))
		return EndResult{Reason: reason, Discarded: true}, nil
	case StateActive:
	default:
		return EndResult{}, ErrNotActive
	}

	o.ending = true
	defer func() { o.ending = false }()

	if o.scheduler != nil {
		o.scheduler.Stop()
	}
	now := o.clock.Now()
	o.setState(StateEnded)
	o.runTick(ctx, now)
	o.entities.EndAll(now)
	o.timeline.LogEvent(EventSessionEnded, map[string]any{"reason": reason}, now)

	s := o.buildSummary(now)
	result := EndResult{SessionID: o.sessionID, Reason: reason, TickCount: s.Timeline.Timebase.TickCount, Summary: &s}
	if err := summary.Validate(s, o.cfg.Limits); err != nil {
		result.Rejection = rejectionReason(err)
		metrics.RecordSaveRejected(result.Rejection)
		o.logger.Warn(ctx, "session summary rejected",
			logger.String("session", o.sessionID),
			logger.Error(err),
		)
	} else {
		result.Saved = true
		metrics.RecordSaveAccepted()
		if o.persister != nil {
			o.persister.Persist(ctx, summary.Encode(s), true)
		}
	}

	metrics.RecordSessionEnded(reason)
	o.logger.Info(ctx, "session ended",
		logger.String("session", o.sessionID),
		logger.String("reason", reason),
		logger.Int("ticks", result.TickCount),
		logger.Int("coins", s.RewardSummary.TotalCoins),
		logger.Bool("saved", result.Saved),
	)
	o.resetAll()
	o.lastEnd = &result
	return result, nil
}

// Autosave validates and persists the running session without ending it.
func (o *Orchestrator) Autosave(ctx context.Context) (bool, error) {
	if o.state != StateActive {
		return false, ErrNotActive
	}
	if o.timeline.TickCount() < o.cfg.Limits.MinTicks {
		return false, nil
	}
	s := o.buildSummary(o.clock.Now())
	if err := summary.Validate(s, o.cfg.Limits); err != nil {
		metrics.RecordSaveRejected(rejectionReason(err))
		o.logger.Debug(ctx, "autosave skipped", logger.Error(err))
		return false, nil
	}
	if o.persister != nil {
		o.persister.Persist(ctx, summary.Encode(s), false)
	}
	return true, nil
}

func (o *Orchestrator) buildSummary(now time.Time) summary.Summary {
	duration := now.Sub(o.startedAt)
	if duration < 0 {
		duration = 0
	}
	memos := make([]summary.VoiceMemo, len(o.memos))
	copy(memos, o.memos)
	return summary.Summary{
		SessionID:         o.sessionID,
		StartTime:         o.startedAt,
		EndTime:           now,
		DurationMs:        duration.Milliseconds(),
		Roster:            o.roster(),
		DeviceAssignments: o.ledger.Entries(),
		Entities:          o.entities.All(),
		RewardSummary:     o.engine.Summary(),
		Timeline:          summary.FromTimeline(o.timeline),
		VoiceMemos:        memos,
	}
}

// resetAll drops every per-session reference and returns to Idle.
func (o *Orchestrator) resetAll() {
	o.buffer = nil
	o.sessionID = ""
	o.startedAt = time.Time{}
	o.timeline = nil
	o.collector = nil
	o.engine = nil
	o.entities = nil
	o.memos = nil
	o.history = nil
	o.warned = nil
	o.hrSource = nil
	o.lastTick = collector.Result{}
	o.emptySince = time.Time{}
	o.devices.Reset()
	o.dedupe.Reset()
	o.monitor.Reset()
	o.ledger.Reset()
	o.setState(StateIdle)
}

func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.logger.Debug(context.Background(), "state transition",
		logger.String("from", string(o.state)),
		logger.String("to", string(s)),
	)
	o.state = s
	metrics.UpdateSessionState(string(s), allStates)
}

func rejectionReason(err error) string {
	var v *summary.ValidationError
	if errors.As(err, &v) {
		return v.Reason
	}
	return "invalid"
}

func sampleType(s model.DeviceSample) string {
	if s.Type != "" {
		return s.Type
	}
	return "unknown"
}
