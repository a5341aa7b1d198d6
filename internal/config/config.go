// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/zone"
)

// Store drivers accepted by store_driver.
const (
	StoreMemory = repository.DriverMemory
	StoreSQLite = repository.DriverSQLite
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	TickIntervalMS       int `koanf:"tick_interval_ms"`
	AutosaveIntervalMS   int `koanf:"autosave_interval_ms"`
	CoinIntervalMS       int `koanf:"coin_interval_ms"`
	BufferThreshold      int `koanf:"buffer_threshold"`
	InactivityTimeoutMS  int `koanf:"inactivity_timeout_ms"`
	EmptyRosterTimeoutMS int `koanf:"empty_roster_timeout_ms"`
	DeviceStaleMS        int `koanf:"device_stale_ms"`
	EntityMergeWindowMS  int `koanf:"entity_merge_window_ms"`
	MaxCatchUpTicks      int `koanf:"max_catchup_ticks"`
	DropoutGraceTicks    int `koanf:"dropout_grace_ticks"`
	MinTicks             int `koanf:"min_ticks"`
	MaxSeriesPoints      int `koanf:"max_series_points"`
	SpamDurationMS       int `koanf:"spam_duration_ms"`

	// QueueSize bounds the session actor queue; DedupeSize the duplicate window.
	QueueSize  int `koanf:"queue_size"`
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit and GET /sessions?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// StoreDriver selects summary persistence: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`

	// LiveOrigins lists extra origin patterns allowed to open /live.
	LiveOrigins []string `koanf:"live_origins"`

	Zones []zone.Zone     `koanf:"zones"`
	Users []identity.User `koanf:"users"`
}

// DefaultZones is the zone table used when none is configured.
func DefaultZones() []zone.Zone {
	return []zone.Zone{
		{ID: "cool", Name: "Cool", Min: 0, Color: "blue", Coins: 0},
		{ID: "active", Name: "Active", Min: 100, Color: "green", Coins: 1},
		{ID: "warm", Name: "Warm", Min: 120, Color: "yellow", Coins: 2},
		{ID: "hot", Name: "Hot", Min: 140, Color: "orange", Coins: 3},
		{ID: "fire", Name: "On Fire", Min: 160, Color: "red", Coins: 5},
	}
}

// New creates a Config with defaults. Zones is left empty so a configured
// table replaces the default instead of merging into it; Load fills it in.
func New() *Config {
	def := session.DefaultConfig()
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		TickIntervalMS:       ms(def.TickInterval),
		AutosaveIntervalMS:   ms(def.AutosaveInterval),
		CoinIntervalMS:       ms(def.CoinInterval),
		BufferThreshold:      def.BufferThreshold,
		InactivityTimeoutMS:  ms(def.InactivityTimeout),
		EmptyRosterTimeoutMS: ms(def.EmptyRosterTimeout),
		DeviceStaleMS:        ms(def.DeviceStale),
		EntityMergeWindowMS:  ms(def.EntityMergeWindow),
		MaxCatchUpTicks:      def.MaxCatchUpTicks,
		DropoutGraceTicks:    def.DropoutGraceTicks,
		MinTicks:             def.Limits.MinTicks,
		MaxSeriesPoints:      def.Limits.MaxPoints,
		SpamDurationMS:       ms(def.Limits.SpamDuration),
		QueueSize:            4096,
		DedupeSize:           4096,
		MaxLeaderboardLimit:  100,
		StoreDriver:          StoreMemory,
		SQLitePath:           "pulse.db",
	}
}

func ms(d time.Duration) int { return int(d / time.Millisecond) }

func dur(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Session converts the timing keys into a session configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		TickInterval:       dur(c.TickIntervalMS),
		AutosaveInterval:   dur(c.AutosaveIntervalMS),
		CoinInterval:       dur(c.CoinIntervalMS),
		BufferThreshold:    c.BufferThreshold,
		InactivityTimeout:  dur(c.InactivityTimeoutMS),
		EmptyRosterTimeout: dur(c.EmptyRosterTimeoutMS),
		DeviceStale:        dur(c.DeviceStaleMS),
		EntityMergeWindow:  dur(c.EntityMergeWindowMS),
		MaxCatchUpTicks:    c.MaxCatchUpTicks,
		DropoutGraceTicks:  c.DropoutGraceTicks,
		Limits: summary.Limits{
			MinTicks:     c.MinTicks,
			MaxPoints:    c.MaxSeriesPoints,
			SpamDuration: dur(c.SpamDurationMS),
		},
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return ErrNoSQLitePath
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownStore, c.StoreDriver)
	}
	if c.QueueSize < 1 || c.DedupeSize < 1 || c.MaxLeaderboardLimit < 1 {
		return fmt.Errorf("%w: queue_size, dedupe_size and max_leaderboard_limit must be positive", ErrInvalidConfig)
	}
	if err := c.Session().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := zone.NewTable(c.Zones); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := identity.NewDirectory(c.Users); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
