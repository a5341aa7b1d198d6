// Package zone holds the heart-rate zone table and per-participant threshold overrides.
package zone

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidZone is returned when a zone definition cannot be used.
var ErrInvalidZone = errors.New("invalid zone")

// NoZoneColor is the display color of a participant outside every zone.
const NoZoneColor = ""

// Zone is a heart-rate band with a reward value and display color.
type Zone struct {
	ID    string  `json:"id" koanf:"id"`
	Name  string  `json:"name" koanf:"name"`
	Min   float64 `json:"min" koanf:"min"`
	Color string  `json:"color" koanf:"color"`
	Coins int     `json:"coins" koanf:"coins"`
}

// Table is the globally configured zone list, sorted ascending by Min,
// with optional per-profile threshold overrides layered on top.
type Table struct {
	mu        sync.RWMutex
	zones     []Zone
	overrides map[string]map[string]float64 // profileID -> zoneID -> min
}

// NewTable validates zones and returns them sorted ascending by threshold.
func NewTable(zones []Zone) (*Table, error) {
	sorted, err := validate(zones)
	if err != nil {
		return nil, err
	}
	return &Table{zones: sorted, overrides: make(map[string]map[string]float64)}, nil
}

// Replace swaps the zone list in place and drops every override, so holders
// of the table see the new configuration immediately.
func (t *Table) Replace(zones []Zone) error {
	sorted, err := validate(zones)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.zones = sorted
	t.overrides = make(map[string]map[string]float64)
	t.mu.Unlock()
	return nil
}

func validate(zones []Zone) ([]Zone, error) {
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	seen := make(map[string]struct{}, len(sorted))
	for _, z := range sorted {
		if z.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidZone)
		}
		if _, dup := seen[z.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidZone, z.ID)
		}
		if z.Min < 0 || z.Coins < 0 {
			return nil, fmt.Errorf("%w: %q has a negative threshold or coin value", ErrInvalidZone, z.ID)
		}
		seen[z.ID] = struct{}{}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })
	return sorted, nil
}

// Zones returns a copy of the table in ascending order.
func (t *Table) Zones() []Zone {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Zone, len(t.zones))
	copy(out, t.zones)
	return out
}

// SetOverrides replaces the threshold overrides for profileID.
// Unknown zone ids are ignored.
func (t *Table) SetOverrides(profileID string, mins map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(mins) == 0 {
		delete(t.overrides, profileID)
		return
	}
	o := make(map[string]float64, len(mins))
	for _, z := range t.zones {
		if v, ok := mins[z.ID]; ok && v >= 0 {
			o[z.ID] = v
		}
	}
	t.overrides[profileID] = o
}

// Threshold returns the effective minimum BPM of z for profileID.
func (t *Table) Threshold(profileID string, z Zone) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.threshold(profileID, z)
}

func (t *Table) threshold(profileID string, z Zone) float64 {
	if o, ok := t.overrides[profileID]; ok {
		if v, ok := o[z.ID]; ok {
			return v
		}
	}
	return z.Min
}

// Resolve returns the highest zone whose effective threshold is <= hr.
// It reports false when hr is below every threshold.
func (t *Table) Resolve(profileID string, hr float64) (Zone, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.zones) - 1; i >= 0; i-- {
		z := t.zones[i]
		if t.threshold(profileID, z) <= hr {
			return z, true
		}
	}
	return Zone{}, false
}

// Index returns the position of zoneID in ascending order, or -1.
func (t *Table) Index(zoneID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, z := range t.zones {
		if z.ID == zoneID {
			return i
		}
	}
	return -1
}

// Lookup returns the zone with id zoneID.
func (t *Table) Lookup(zoneID string) (Zone, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, z := range t.zones {
		if z.ID == zoneID {
			return z, true
		}
	}
	return Zone{}, false
}
