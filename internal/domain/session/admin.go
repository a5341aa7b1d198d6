package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
)

// AssignRequest binds a device to a named participant, typically a guest.
type AssignRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	// ParticipantID is derived from Name when empty.
	ParticipantID string `json:"participantId,omitempty"`
	Guest         bool   `json:"guest"`
}

// AssignDevice records a ledger assignment. During an active session it also
// opens a segment for the new occupant, merging a short-lived predecessor.
func (o *Orchestrator) AssignDevice(ctx context.Context, req AssignRequest) (identity.Assignment, error) {
	id := req.ParticipantID
	if id == "" {
		id = req.Name
	}
	a := identity.Assignment{
		DeviceID:      req.DeviceID,
		ParticipantID: id,
		Name:          req.Name,
		Guest:         req.Guest,
		AssignedAt:    o.clock.Now(),
	}
	if err := o.ledger.Assign(a); err != nil {
		return identity.Assignment{}, err
	}
	stored, _ := o.ledger.Get(req.DeviceID)
	o.logger.Info(ctx, "device assigned",
		logger.String("device", stored.DeviceID),
		logger.String("participant", stored.ParticipantID),
		logger.Bool("guest", stored.Guest),
	)
	if o.state != StateActive {
		return stored, nil
	}

	now := o.clock.Now()
	o.timeline.LogEvent(EventDeviceAssigned, map[string]any{
		"deviceId":      stored.DeviceID,
		"participantId": stored.ParticipantID,
		"guest":         stored.Guest,
	}, now)
	o.ensureEntity(ctx, o.resolver.Resolve(stored.DeviceID), now)
	return stored, nil
}

// UnassignDevice removes a ledger assignment and closes the device's segment.
func (o *Orchestrator) UnassignDevice(ctx context.Context, deviceID string) error {
	a, err := o.ledger.Unassign(deviceID)
	if err != nil {
		return err
	}
	o.logger.Info(ctx, "device unassigned",
		logger.String("device", deviceID),
		logger.String("participant", a.ParticipantID),
	)
	if o.state != StateActive {
		return nil
	}
	now := o.clock.Now()
	o.timeline.LogEvent(EventDeviceUnassigned, map[string]any{
		"deviceId":      deviceID,
		"participantId": a.ParticipantID,
	}, now)
	if cur, ok := o.entities.ActiveForDevice(deviceID); ok && cur.ProfileID == a.ParticipantID {
		return o.entities.EndEntity(cur.ID, entity.EndOptions{EndTime: now})
	}
	return nil
}

// Transfer moves every coin and the in-flight interval of entity from into
// entity to. The session total is unchanged.
func (o *Orchestrator) Transfer(ctx context.Context, from, to string) error {
	if o.state != StateActive {
		return ErrNotActive
	}
	now := o.clock.Now()
	if err := o.entities.Transfer(from, to, now); err != nil {
		return err
	}
	o.timeline.LogEvent(EventEntityTransferred, map[string]any{
		"from":   from,
		"to":     to,
		"reason": "manual",
	}, now)
	o.logger.Info(ctx, "entity transferred", logger.String("from", from), logger.String("to", to))
	return nil
}

// VoiceMemoRequest is a note to attach to the active session.
type VoiceMemoRequest struct {
	ParticipantID string `json:"participantId,omitempty"`
	DurationMs    int64  `json:"durationMs"`
	Transcript    string `json:"transcript"`
}

// AddVoiceMemo attaches a memo stamped with the current session offset.
func (o *Orchestrator) AddVoiceMemo(ctx context.Context, req VoiceMemoRequest) (summary.VoiceMemo, error) {
	if o.state != StateActive {
		return summary.VoiceMemo{}, ErrNotActive
	}
	if req.DurationMs < 0 {
		return summary.VoiceMemo{}, fmt.Errorf("%w: negative memo duration", ErrInvalidSample)
	}
	now := o.clock.Now()
	memo := summary.VoiceMemo{
		ID:            "memo-" + strconv.Itoa(len(o.memos)+1),
		ParticipantID: req.ParticipantID,
		Timestamp:     now,
		OffsetMs:      now.Sub(o.startedAt).Milliseconds(),
		DurationMs:    req.DurationMs,
		Transcript:    req.Transcript,
	}
	o.memos = append(o.memos, memo)
	o.timeline.LogEvent(EventVoiceMemo, map[string]any{
		"memoId":        memo.ID,
		"participantId": memo.ParticipantID,
	}, now)
	o.logger.Debug(ctx, "voice memo added", logger.String("memo", memo.ID))
	return memo, nil
}

// Configure replaces the zone table and the user directory. Per-user zone
// overrides are reapplied after the table swap. Either argument may be nil
// to leave that part unchanged.
func (o *Orchestrator) Configure(ctx context.Context, zones []zone.Zone, users []identity.User) error {
	if zones != nil {
		if err := o.zones.Replace(zones); err != nil {
			return err
		}
	}
	if users != nil {
		if err := o.directory.Replace(users); err != nil {
			return err
		}
	}
	for _, u := range o.directory.Users() {
		if len(u.ZoneOverrides) > 0 {
			o.zones.SetOverrides(u.ID, u.ZoneOverrides)
		}
	}
	o.logger.Info(ctx, "configuration applied",
		logger.Int("zones", len(o.zones.Zones())),
		logger.Int("users", len(o.directory.Users())),
	)
	return nil
}
