package session

import (
	"github.com/okian/pulse/internal/clock"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the default timing configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithZones sets the zone table shared by the collector and the reward engine.
func WithZones(t *zone.Table) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.zones = t
		}
	}
}

// WithDirectory sets the registered-user directory.
func WithDirectory(d *identity.Directory) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.directory = d
		}
	}
}

// WithDeduper sets the duplicate-sample filter.
func WithDeduper(d dedupe.Deduper) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.dedupe = d
		}
	}
}

// WithPersister sets where validated summaries are handed off.
func WithPersister(p Persister) Option {
	return func(o *Orchestrator) {
		o.persister = p
	}
}

// WithScheduler sets the periodic tick/autosave driver.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) {
		o.scheduler = s
	}
}

// WithTickObserver registers a callback invoked after every tick.
func WithTickObserver(fn func(TickReport)) Option {
	return func(o *Orchestrator) {
		o.onTick = fn
	}
}

// WithIDGenerator overrides how session ids are allocated.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}
