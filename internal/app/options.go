package service

import (
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/clock"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSessionConfig sets the session timing configuration.
func WithSessionConfig(cfg session.Config) Option {
	return func(s *Service) {
		s.sessionCfg = cfg
	}
}

// WithZones sets the zone table.
func WithZones(zones []zone.Zone) Option {
	return func(s *Service) {
		s.zones = zones
	}
}

// WithUsers sets the registered-user directory.
func WithUsers(users []identity.User) Option {
	return func(s *Service) {
		s.users = users
	}
}

// WithStore sets where session summaries are persisted.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithBroadcaster sets the live feed receiving tick frames.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

// WithClock sets the time source of the session.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithQueueSize sets the maximum number of pending session tasks.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSaveQueueSize sets the maximum number of pending store writes.
func WithSaveQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.saveQueueSize = size
		}
	}
}

// WithDedupeSize sets the size of the duplicate-sample window.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLeaderboardHistory sets how many stored sessions seed the leaderboard at start.
func WithLeaderboardHistory(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithManualTicks disables the internal ticker; callers drive Pump and
// Autosave themselves.
func WithManualTicks() Option {
	return func(s *Service) {
		s.manualTicks = true
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
