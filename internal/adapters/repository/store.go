// Package repository persists encoded session summaries.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/summary"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Record is the listing view of one stored session.
type Record struct {
	SessionID  string         `json:"sessionId"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    time.Time      `json:"endTime"`
	DurationMs int64          `json:"durationMs"`
	TotalCoins int            `json:"totalCoins"`
	Coins      map[string]int `json:"coins"`
	SavedAt    time.Time      `json:"savedAt"`
}

// Store provides read/write access to session summaries. Saving an existing
// session id replaces it, which is how autosaves update a running session.
type Store interface {
	Save(ctx context.Context, p summary.Payload) error
	Get(ctx context.Context, sessionID string) (summary.Payload, error)
	// List returns up to limit records, most recent first.
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open returns the store for driver.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// RecordFor derives the listing view of p.
func RecordFor(p summary.Payload, savedAt time.Time) (Record, error) {
	if strings.TrimSpace(p.SessionID) == "" {
		return Record{}, fmt.Errorf("%w: session id is required", ErrInvalidRecord)
	}
	coins := make(map[string]int)
	for _, e := range p.Entities {
		if e.Status == entity.StatusTransferred {
			continue
		}
		coins[e.ProfileID] += e.Coins
	}
	return Record{
		SessionID:  p.SessionID,
		StartTime:  p.StartTime.UTC(),
		EndTime:    p.EndTime.UTC(),
		DurationMs: p.DurationMs,
		TotalCoins: p.RewardSummary.TotalCoins,
		Coins:      coins,
		SavedAt:    savedAt.UTC(),
	}, nil
}

func marshalPayload(p summary.Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", p.SessionID, err)
	}
	return data, nil
}

func unmarshalPayload(data []byte) (summary.Payload, error) {
	var p summary.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return summary.Payload{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return p, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].StartTime.After(records[j].StartTime)
		}
		return records[i].SessionID > records[j].SessionID
	})
}
