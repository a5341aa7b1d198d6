// Package simulator drives a running pulse service with synthetic riders.
package simulator

import (
	"errors"
	"time"
)

// ErrInvalidConfig reports an unusable simulator configuration.
var ErrInvalidConfig = errors.New("invalid simulator config")

// Config holds configuration for a simulated class.
type Config struct {
	BaseURL  string        // Base URL of the service
	Riders   int           // Number of riders on the floor
	Duration time.Duration // How long riders keep broadcasting
	Cadence  time.Duration // Time between two samples of one device
	Workers  int           // Number of concurrent HTTP workers
	Timeout  time.Duration // HTTP request timeout
	Seed     uint64        // Seed of the rider curves
	// GuestSwapAt hands rider 0's strap to a guest after this long. Zero disables it.
	GuestSwapAt time.Duration
	// NoEnd leaves the session running when the riders stop.
	NoEnd bool
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Riders < 1:
		return errors.Join(ErrInvalidConfig, errors.New("at least one rider is required"))
	case c.Cadence <= 0 || c.Duration <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("cadence and duration must be positive"))
	case c.Workers < 1:
		return errors.Join(ErrInvalidConfig, errors.New("at least one worker is required"))
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Rounds            int
	SamplesGenerated  int
	SamplesAccepted   int
	SamplesThrottled  int
	SamplesFailed     int
	SamplesDropped    int
	GuestSwapped      bool
	SessionID         string
	Saved             bool
	Rejection         string
	LeaderboardLength int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}

// Standing mirrors one leaderboard row.
type Standing struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	Coins         int    `json:"coins"`
	Sessions      int    `json:"sessions"`
}

// EndResult mirrors the POST /session/end response.
type EndResult struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	TickCount int    `json:"tickCount"`
	Saved     bool   `json:"saved"`
	Rejection string `json:"rejection,omitempty"`
}
