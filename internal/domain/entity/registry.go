// Package entity tracks participation segments: one continuous occupancy of
// a device by one identity within a session.
package entity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/pkg/logger"
)

// Status of a segment.
type Status string

// Segment statuses.
const (
	StatusActive      Status = "active"
	StatusDropped     Status = "dropped"
	StatusEnded       Status = "ended"
	StatusTransferred Status = "transferred"
)

// Entity is one occupancy segment.
type Entity struct {
	ID            string    `json:"entityId"`
	ProfileID     string    `json:"profileId"`
	DeviceID      string    `json:"deviceId"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime,omitempty"`
	Status        Status    `json:"status"`
	Coins         int       `json:"coins"`
	TransferredTo string    `json:"transferredTo,omitempty"`
}

// Live reports whether the segment is still occupying its device.
func (e Entity) Live() bool {
	return e.Status == StatusActive || e.Status == StatusDropped
}

// Aggregate is the lifetime view of one profile across its segments.
type Aggregate struct {
	ProfileID  string   `json:"profileId"`
	EntityIDs  []string `json:"entityIds"`
	Coins      int      `json:"coins"`
	DurationMs int64    `json:"durationMs"`
}

// Ledger is the reward-engine surface the registry drives.
type Ledger interface {
	Register(key, profileID string, now time.Time)
	SetDeviceEntity(deviceID, entityID string)
	ClearDeviceEntity(deviceID string)
	Transfer(from, to string) error
	Accumulator(key string) (reward.Accumulator, bool)
}

// CreateRequest describes a new segment.
type CreateRequest struct {
	ProfileID string
	DeviceID  string
	StartTime time.Time
}

// EndOptions overrides how a segment is closed.
type EndOptions struct {
	Status        Status
	TransferredTo string
	EndTime       time.Time
}

// Created reports a new segment and what happened to the one it replaced.
type Created struct {
	Entity   Entity
	Previous *Entity
	Merged   bool
}

// Registry is not safe for concurrent use; the session actor owns it.
type Registry struct {
	ledger      Ledger
	mergeWindow time.Duration
	newID       func() string
	logger      logger.Logger

	entities map[string]*Entity
	order    []string
	byDevice map[string]string
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithMergeWindow sets the minimum occupancy below which a replaced segment is
// merged into its successor instead of standing on its own. Zero disables merging.
func WithMergeWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.mergeWindow = d
		}
	}
}

// WithIDGenerator overrides how entity ids are allocated.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry bound to ledger.
func NewRegistry(ledger Ledger, opts ...Option) *Registry {
	r := &Registry{
		ledger:      ledger,
		mergeWindow: 30 * time.Second,
		newID:       func() string { return "entity-" + uuid.NewString() },
		logger:      logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("entity")
	r.Reset()
	return r
}

// Reset forgets every segment.
func (r *Registry) Reset() {
	r.entities = make(map[string]*Entity)
	r.order = nil
	r.byDevice = make(map[string]string)
}

// Create opens a segment for req.DeviceID, closing the device's current one.
// A replaced segment shorter than the merge window is transferred forward.
func (r *Registry) Create(req CreateRequest) (Created, error) {
	if req.ProfileID == "" || req.DeviceID == "" {
		return Created{}, fmt.Errorf("%w: profile %q device %q", ErrInvalidEntity, req.ProfileID, req.DeviceID)
	}

	e := &Entity{
		ID:        r.newID(),
		ProfileID: req.ProfileID,
		DeviceID:  req.DeviceID,
		StartTime: req.StartTime,
		Status:    StatusActive,
	}
	r.entities[e.ID] = e
	r.order = append(r.order, e.ID)
	r.ledger.Register(e.ID, e.ProfileID, req.StartTime)

	var out Created
	if prevID, ok := r.byDevice[req.DeviceID]; ok {
		prev := r.entities[prevID]
		if r.mergeWindow > 0 && req.StartTime.Sub(prev.StartTime) < r.mergeWindow {
			if err := r.Transfer(prevID, e.ID, req.StartTime); err != nil {
				return Created{}, err
			}
			out.Merged = true
		} else if err := r.EndEntity(prevID, EndOptions{EndTime: req.StartTime}); err != nil {
			return Created{}, err
		}
		snapshot := r.view(prev)
		out.Previous = &snapshot
	}

	r.byDevice[req.DeviceID] = e.ID
	r.ledger.SetDeviceEntity(req.DeviceID, e.ID)
	out.Entity = r.view(e)

	r.logger.Debug(context.Background(), "entity created",
		logger.String("entity", e.ID),
		logger.String("profile", e.ProfileID),
		logger.String("device", e.DeviceID),
		logger.Bool("merged", out.Merged),
	)
	return out, nil
}

// EndEntity closes id without deleting it.
func (r *Registry) EndEntity(id string, opts EndOptions) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.Live() {
		return fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	if opts.Status == "" {
		opts.Status = StatusEnded
	}
	e.Status = opts.Status
	e.TransferredTo = opts.TransferredTo
	e.EndTime = opts.EndTime
	e.Coins = r.coins(e)

	if r.byDevice[e.DeviceID] == id {
		delete(r.byDevice, e.DeviceID)
		r.ledger.ClearDeviceEntity(e.DeviceID)
	}
	return nil
}

// Transfer moves from's reward state into to and closes from as transferred.
func (r *Registry) Transfer(from, to string, at time.Time) error {
	if _, ok := r.entities[from]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if _, ok := r.entities[to]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, to)
	}
	if err := r.ledger.Transfer(from, to); err != nil {
		return fmt.Errorf("transfer %s to %s: %w", from, to, err)
	}
	if !r.entities[from].Live() {
		// Already closed; only relabel the terminal state.
		src := r.entities[from]
		src.Status = StatusTransferred
		src.TransferredTo = to
		src.Coins = 0
		return nil
	}
	return r.EndEntity(from, EndOptions{Status: StatusTransferred, TransferredTo: to, EndTime: at})
}

// MarkDropped flags the live segments of profileID as dropped.
func (r *Registry) MarkDropped(profileID string) {
	r.setLiveStatus(profileID, StatusDropped)
}

// MarkRecovered flags the live segments of profileID as active again.
func (r *Registry) MarkRecovered(profileID string) {
	r.setLiveStatus(profileID, StatusActive)
}

// Get returns a copy of id with its current coin total.
func (r *Registry) Get(id string) (Entity, bool) {
	e, ok := r.entities[id]
	if !ok {
		return Entity{}, false
	}
	return r.view(e), true
}

// ActiveForDevice returns the live segment occupying deviceID.
func (r *Registry) ActiveForDevice(deviceID string) (Entity, bool) {
	id, ok := r.byDevice[deviceID]
	if !ok {
		return Entity{}, false
	}
	return r.view(r.entities[id]), true
}

// LiveIDsFor returns the ids of live segments owned by profileID.
func (r *Registry) LiveIDsFor(profileID string) []string {
	var out []string
	for _, id := range r.order {
		e := r.entities[id]
		if e.ProfileID == profileID && e.Live() {
			out = append(out, id)
		}
	}
	return out
}

// All returns every segment in creation order.
func (r *Registry) All() []Entity {
	out := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.view(r.entities[id]))
	}
	return out
}

// ProfileAggregate sums coins and occupancy of profileID across segments,
// skipping transferred ones whose value already lives in a successor.
func (r *Registry) ProfileAggregate(profileID string, now time.Time) Aggregate {
	agg := Aggregate{ProfileID: profileID, EntityIDs: []string{}}
	for _, id := range r.order {
		e := r.entities[id]
		if e.ProfileID != profileID || e.Status == StatusTransferred {
			continue
		}
		agg.EntityIDs = append(agg.EntityIDs, id)
		agg.Coins += r.coins(e)
		end := e.EndTime
		if end.IsZero() {
			end = now
		}
		if d := end.Sub(e.StartTime); d > 0 {
			agg.DurationMs += d.Milliseconds()
		}
	}
	return agg
}

// Aggregates returns ProfileAggregate for every profile, sorted by profile id.
func (r *Registry) Aggregates(now time.Time) []Aggregate {
	seen := make(map[string]struct{})
	var profiles []string
	for _, id := range r.order {
		p := r.entities[id].ProfileID
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			profiles = append(profiles, p)
		}
	}
	sort.Strings(profiles)
	out := make([]Aggregate, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, r.ProfileAggregate(p, now))
	}
	return out
}

// EndAll closes every live segment at at.
func (r *Registry) EndAll(at time.Time) {
	for _, id := range r.order {
		if r.entities[id].Live() {
			_ = r.EndEntity(id, EndOptions{EndTime: at})
		}
	}
}

func (r *Registry) setLiveStatus(profileID string, s Status) {
	for _, id := range r.order {
		e := r.entities[id]
		if e.ProfileID == profileID && e.Live() {
			e.Status = s
		}
	}
}

func (r *Registry) coins(e *Entity) int {
	if e.Status == StatusTransferred {
		return 0
	}
	if acc, ok := r.ledger.Accumulator(e.ID); ok {
		return acc.TotalCoins
	}
	return e.Coins
}

func (r *Registry) view(e *Entity) Entity {
	v := *e
	v.Coins = r.coins(e)
	return v
}
