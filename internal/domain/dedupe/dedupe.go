// Package dedupe suppresses repeated deliveries of the same device sample.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen sample keys so each reading is processed at most once.
type Deduper interface {
	// SeenAndRecord reports whether key was already recorded and records it if not.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key, allowing a sample that could not be processed to
	// be delivered again.
	Unrecord(ctx context.Context, key string)

	// Reset forgets every key. Called at session boundaries.
	Reset()

	Size() int64
}

type slot struct {
	key  string
	used bool
}

// window is a bounded FIFO of recently seen keys. When full, the oldest key
// is forgotten first.
type window struct {
	mu      sync.Mutex
	seen    map[string]int // key -> slot in ring
	ring    []slot
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper. A non-positive max size keeps every key.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &window{maxSize: 4096}
	for _, opt := range opts {
		opt(d)
	}
	d.Reset()
	return d
}

func (d *window) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[key] = -1
		return false
	}

	if old := d.ring[d.next]; old.used {
		delete(d.seen, old.key)
	}
	d.ring[d.next] = slot{key: key, used: true}
	d.seen[key] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *window) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	if i >= 0 {
		d.ring[i] = slot{}
	}
}

func (d *window) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]int)
	d.next = 0
	if d.maxSize > 0 {
		d.ring = make([]slot, d.maxSize)
	}
}

func (d *window) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
