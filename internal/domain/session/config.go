package session

import (
	"fmt"
	"time"

	"github.com/okian/pulse/internal/domain/summary"
)

// Config holds the timing and threshold parameters of a session.
type Config struct {
	TickInterval       time.Duration
	AutosaveInterval   time.Duration
	CoinInterval       time.Duration
	BufferThreshold    int
	InactivityTimeout  time.Duration
	EmptyRosterTimeout time.Duration
	DeviceStale        time.Duration
	EntityMergeWindow  time.Duration
	MaxCatchUpTicks    int
	DropoutGraceTicks  int
	Limits             summary.Limits
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:       5 * time.Second,
		AutosaveInterval:   15 * time.Second,
		CoinInterval:       5 * time.Second,
		BufferThreshold:    3,
		InactivityTimeout:  5 * time.Minute,
		EmptyRosterTimeout: 2 * time.Minute,
		DeviceStale:        15 * time.Second,
		EntityMergeWindow:  30 * time.Second,
		MaxCatchUpTicks:    1000,
		DropoutGraceTicks:  2,
		Limits:             summary.DefaultLimits(),
	}
}

// Validate checks that every duration and count is usable.
func (c Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	case c.CoinInterval <= 0:
		return fmt.Errorf("%w: coin interval must be positive", ErrInvalidConfig)
	case c.AutosaveInterval < 0:
		return fmt.Errorf("%w: autosave interval must not be negative", ErrInvalidConfig)
	case c.BufferThreshold < 1:
		return fmt.Errorf("%w: buffer threshold must be at least 1", ErrInvalidConfig)
	case c.MaxCatchUpTicks < 1:
		return fmt.Errorf("%w: max catch-up ticks must be at least 1", ErrInvalidConfig)
	case c.InactivityTimeout < 0 || c.EmptyRosterTimeout < 0 || c.DeviceStale < 0 || c.EntityMergeWindow < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}
