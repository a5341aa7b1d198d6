package session

import (
	"context"
	"sort"
	"time"

	"github.com/okian/pulse/internal/domain/activity"
	"github.com/okian/pulse/internal/domain/serieskey"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Series metrics written by the orchestrator on top of the collector's.
const (
	MetricCoins       = "coins"
	MetricCoinsTotal  = "coins_total"
	MetricActiveCount = "active_count"
)

// Pump is driven by the scheduler. It records every tick that is due,
// catching up after a stall, then evaluates the auto-end timers. It
// returns the number of ticks recorded.
func (o *Orchestrator) Pump(ctx context.Context) (int, error) {
	now := o.clock.Now()
	switch o.state {
	case StateBuffering:
		if last := o.devices.LastActivity(); o.cfg.DeviceStale > 0 && !last.IsZero() && now.Sub(last) > o.cfg.DeviceStale {
			n := len(o.buffer)
			o.resetAll()
			o.logger.Info(ctx, "buffer went stale", logger.Int("samples", n))
		}
		return 0, nil
	case StateActive:
	default:
		return 0, ErrNotActive
	}

	fired := 0
	for fired < o.cfg.MaxCatchUpTicks {
		due := o.timeline.TickTimestamp(o.timeline.TickCount() + 1)
		if due.After(now) {
			break
		}
		o.runTick(ctx, due)
		fired++
		if fired > 1 {
			metrics.RecordCatchUpTick()
		}
	}
	if fired > 1 {
		o.logger.Warn(ctx, "caught up on missed ticks", logger.Int("ticks", fired))
	}

	if reason := o.endReason(now); reason != "" {
		if _, err := o.End(ctx, reason); err != nil {
			return fired, err
		}
	}
	return fired, nil
}

// endReason returns why the session should end automatically, if at all.
func (o *Orchestrator) endReason(now time.Time) string {
	if o.cfg.InactivityTimeout > 0 {
		last := o.devices.LastActivity()
		if last.IsZero() {
			last = o.startedAt
		}
		if now.Sub(last) >= o.cfg.InactivityTimeout {
			return ReasonInactivity
		}
	}
	if o.cfg.EmptyRosterTimeout > 0 && !o.emptySince.IsZero() && now.Sub(o.emptySince) >= o.cfg.EmptyRosterTimeout {
		return ReasonEmptyRoster
	}
	return ""
}

// runTick collects, gates rewards and appends one aligned tick stamped at ts.
func (o *Orchestrator) runTick(ctx context.Context, ts time.Time) {
	began := time.Now()
	tickIndex := o.timeline.TickCount()

	res := o.collector.Collect(ctx, o.devices.Active(ts, o.cfg.DeviceStale), o.cfg.TickInterval)
	for _, p := range res.Participants {
		for _, d := range p.Devices {
			o.remember(o.resolver.Resolve(d))
		}
	}

	for _, ev := range o.monitor.Observe(tickIndex, ts, res.Active) {
		o.timeline.LogEvent(ev.Type, map[string]any{"participantId": ev.ParticipantID}, ts)
		if ev.Type == activity.EventDropout {
			o.entities.MarkDropped(ev.ParticipantID)
		} else {
			o.entities.MarkRecovered(ev.ParticipantID)
		}
	}

	keys := make([]string, 0, len(res.Active))
	for _, id := range res.Active {
		keys = append(keys, o.creditedKeys(id)...)
	}
	awards := o.engine.ProcessTick(keys, ts)

	values := res.Values
	for _, id := range o.historicalIDs() {
		coins := float64(o.engine.ProfileCoins(id))
		values[serieskey.Key{Scope: serieskey.ScopeUser, Subject: id, Metric: MetricCoins}.String()] = &coins
	}
	total := float64(o.engine.Total())
	values[serieskey.Key{Scope: serieskey.ScopeGlobal, Metric: MetricCoinsTotal}.String()] = &total
	count := float64(len(res.Active))
	values[serieskey.Key{Scope: serieskey.ScopeGlobal, Metric: MetricActiveCount}.String()] = &count

	clean, dropped := serieskey.Filter(values)
	if len(dropped) > 0 {
		metrics.RecordDroppedKeys(len(dropped))
		res.Dropped = append(res.Dropped, dropped...)
	}
	o.timeline.Tick(clean, ts)
	o.lastTick = res

	if len(res.Active) > 0 {
		o.emptySince = time.Time{}
	} else if o.emptySince.IsZero() {
		o.emptySince = ts
	}

	o.reconcile(ctx)

	metrics.RecordTick(float64(time.Since(began).Microseconds()) / 1000)
	metrics.UpdateSeriesCount(len(o.timeline.Keys()))
	metrics.UpdateActiveParticipants(len(res.Active))

	if o.onTick != nil {
		rs := o.engine.Summary()
		o.onTick(TickReport{
			SessionID:  o.sessionID,
			TickIndex:  tickIndex,
			Timestamp:  ts,
			Active:     res.Active,
			Awards:     awards,
			Roster:     o.roster(),
			TotalCoins: rs.TotalCoins,
			Buckets:    rs.Buckets,
			Dropped:    res.Dropped,
		})
	}
}

// reconcile warns once per device about ledger entries that contradict the
// directory.
func (o *Orchestrator) reconcile(ctx context.Context) {
	for _, m := range o.resolver.Reconcile() {
		key := m.DeviceID + "|" + m.LedgerID
		if _, seen := o.warned[key]; seen {
			continue
		}
		o.warned[key] = struct{}{}
		metrics.RecordIdentityMismatch()
		o.logger.Warn(ctx, "device assignment disagrees with directory",
			logger.String("device", m.DeviceID),
			logger.String("ledger", m.LedgerID),
			logger.String("directory", m.DirectoryID),
			logger.Bool("guest", m.LedgerIsGuest),
		)
	}
}

func (o *Orchestrator) historicalIDs() []string {
	ids := make([]string, 0, len(o.history))
	for id := range o.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// roster lists every participant seen this session with their latest state.
func (o *Orchestrator) roster() []summary.RosterEntry {
	out := make([]summary.RosterEntry, 0, len(o.history))
	for _, id := range o.historicalIDs() {
		entry := *o.history[id]
		entry.Devices = append([]string(nil), entry.Devices...)
		entry.Status = string(o.monitor.Status(id))
		entry.Active = o.monitor.IsActive(id)
		entry.Coins = o.engine.ProfileCoins(id)
		if p, ok := o.lastTick.Participants[id]; ok && p.Active {
			entry.HeartRate = copyFloat(p.HeartRate)
			entry.ZoneID = p.ZoneID
		}
		out = append(out, entry)
	}
	return out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
