package service

import (
	"context"
	"fmt"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
)

// Ingest queues a device sample for the session actor and returns at once.
func (s *Service) Ingest(ctx context.Context, sample model.DeviceSample) error {
	if sample.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", session.ErrInvalidSample)
	}
	return s.submit(ctx, task{run: func(ctx context.Context, o *session.Orchestrator) {
		if _, err := o.HandleSample(ctx, sample); err != nil {
			s.logger.Warn(ctx, "sample rejected",
				logger.String("device", sample.DeviceID),
				logger.Error(err),
			)
		}
	}})
}

// Pump records due ticks and evaluates the auto-end timers.
func (s *Service) Pump(ctx context.Context) error {
	return s.do(ctx, s.pumpTask().run)
}

// Autosave persists the running session if it is valid.
func (s *Service) Autosave(ctx context.Context) (bool, error) {
	var saved bool
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		saved, err = o.Autosave(ctx)
	}); derr != nil {
		return false, derr
	}
	return saved, err
}

// EndSession ends the running session explicitly.
func (s *Service) EndSession(ctx context.Context) (session.EndResult, error) {
	var res session.EndResult
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		res, err = o.End(ctx, session.ReasonExplicit)
		if err == nil {
			s.afterEnd(o)
		}
	}); derr != nil {
		return session.EndResult{}, derr
	}
	return res, err
}

// Status reports the orchestrator state.
func (s *Service) Status(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		st = o.Status()
	})
	return st, err
}

// Roster lists every participant of the running session.
func (s *Service) Roster(ctx context.Context) ([]summary.RosterEntry, error) {
	var out []summary.RosterEntry
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		out, err = o.Roster()
	}); derr != nil {
		return nil, derr
	}
	return out, err
}

// Timeline returns the recorded timeline in its compact encoding.
func (s *Service) Timeline(ctx context.Context) (summary.EncodedTimeline, error) {
	var tl summary.Timeline
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		tl, err = o.Timeline()
	}); derr != nil {
		return summary.EncodedTimeline{}, derr
	}
	if err != nil {
		return summary.EncodedTimeline{}, err
	}
	return summary.EncodedTimeline{
		Timebase: tl.Timebase,
		Series:   summary.EncodeSeries(tl.Series),
		Events:   tl.Events,
	}, nil
}

// Series returns one user-scoped series.
func (s *Service) Series(ctx context.Context, participantID, metric string) ([]*float64, error) {
	var out []*float64
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		out, err = o.Series(participantID, metric)
	}); derr != nil {
		return nil, derr
	}
	return out, err
}

// RewardSummary returns bucket totals and color timelines.
func (s *Service) RewardSummary(ctx context.Context) (reward.Summary, error) {
	var out reward.Summary
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		out, err = o.RewardSummary()
	}); derr != nil {
		return reward.Summary{}, derr
	}
	return out, err
}

// Entities lists the occupancy segments of the running session.
func (s *Service) Entities(ctx context.Context) ([]entity.Entity, error) {
	var out []entity.Entity
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		out, err = o.Entities()
	}); derr != nil {
		return nil, derr
	}
	return out, err
}

// EntityAggregate folds the segments of one profile.
func (s *Service) EntityAggregate(ctx context.Context, profileID string) (entity.Aggregate, error) {
	var out entity.Aggregate
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		out, err = o.EntityAggregate(profileID)
	}); derr != nil {
		return entity.Aggregate{}, derr
	}
	return out, err
}

// Transfer moves coins between two segments.
func (s *Service) Transfer(ctx context.Context, from, to string) error {
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		err = o.Transfer(ctx, from, to)
	}); derr != nil {
		return derr
	}
	return err
}

// AssignDevice records a device assignment.
func (s *Service) AssignDevice(ctx context.Context, req session.AssignRequest) (identity.Assignment, error) {
	var out identity.Assignment
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		out, err = o.AssignDevice(ctx, req)
	}); derr != nil {
		return identity.Assignment{}, derr
	}
	return out, err
}

// UnassignDevice removes a device assignment.
func (s *Service) UnassignDevice(ctx context.Context, deviceID string) error {
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		err = o.UnassignDevice(ctx, deviceID)
	}); derr != nil {
		return derr
	}
	return err
}

// Assignments lists the device ledger and any disagreement with the directory.
func (s *Service) Assignments(ctx context.Context) ([]identity.Assignment, []identity.Mismatch, error) {
	var entries []identity.Assignment
	var mismatches []identity.Mismatch
	err := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		entries = o.Assignments()
		mismatches = o.Mismatches()
	})
	return entries, mismatches, err
}

// AddVoiceMemo attaches a memo to the running session.
func (s *Service) AddVoiceMemo(ctx context.Context, req session.VoiceMemoRequest) (summary.VoiceMemo, error) {
	var out summary.VoiceMemo
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		out, err = o.AddVoiceMemo(ctx, req)
	}); derr != nil {
		return summary.VoiceMemo{}, derr
	}
	return out, err
}

// Configure replaces zones and users. A nil argument keeps the current value.
func (s *Service) Configure(ctx context.Context, zones []zone.Zone, users []identity.User) error {
	var err error
	if derr := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		err = o.Configure(ctx, zones, users)
	}); derr != nil {
		return derr
	}
	return err
}

// TopN returns the n best participants across stored sessions.
func (s *Service) TopN(_ context.Context, n int) ([]repository.Standing, error) {
	return s.board.TopN(n)
}

// Rank returns the standing of one participant.
func (s *Service) Rank(_ context.Context, participantID string) (repository.Standing, error) {
	return s.board.Rank(participantID)
}

// Sessions lists stored sessions, most recent first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]repository.Record, error) {
	return s.store.List(ctx, limit)
}

// SessionPayload returns one stored session.
func (s *Service) SessionPayload(ctx context.Context, sessionID string) (summary.Payload, error) {
	return s.store.Get(ctx, sessionID)
}

// HistoricalParticipants lists everyone seen in the running session.
func (s *Service) HistoricalParticipants(ctx context.Context) ([]string, error) {
	var out []string
	var err error
	if derr := s.do(ctx, func(_ context.Context, o *session.Orchestrator) {
		out, err = o.HistoricalParticipants()
	}); derr != nil {
		return nil, derr
	}
	return out, err
}
