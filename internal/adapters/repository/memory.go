package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/summary"
)

type memoryRow struct {
	record  Record
	payload []byte
}

// MemoryStore keeps sessions in process memory. Payloads are stored
// serialized so reads never alias the caller's data.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]memoryRow
	now  func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]memoryRow), now: time.Now}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, p summary.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := RecordFor(p, s.now())
	if err != nil {
		return err
	}
	data, err := marshalPayload(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rows[p.SessionID] = memoryRow{record: rec, payload: data}
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (summary.Payload, error) {
	if err := ctx.Err(); err != nil {
		return summary.Payload{}, err
	}
	s.mu.RLock()
	row, ok := s.rows[sessionID]
	s.mu.RUnlock()
	if !ok {
		return summary.Payload{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return unmarshalPayload(row.payload)
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := make([]Record, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.record)
	}
	s.mu.RUnlock()
	sortRecords(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
