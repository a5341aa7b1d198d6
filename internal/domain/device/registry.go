// Package device tracks the sensors that have reported during a session.
package device

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// Device is the registry's view of one sensor.
type Device struct {
	ID       string
	Type     string
	LastSeen time.Time
	Metrics  model.RawMetrics
}

// Registry keeps the latest raw reading per device.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Ingest merges s into the device's latest reading. Fields absent from s keep
// their previous value so a combined bike sensor can report rpm and power in
// separate packets.
func (r *Registry) Ingest(s model.DeviceSample) {
	if s.DeviceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[s.DeviceID]
	if !ok {
		d = &Device{ID: s.DeviceID}
		r.devices[s.DeviceID] = d
	}
	if s.Type != "" {
		d.Type = s.Type
	}
	if s.Timestamp.After(d.LastSeen) {
		d.LastSeen = s.Timestamp
	}
	if s.HeartRate != nil {
		d.Metrics.HeartRate = model.Float(*s.HeartRate)
	}
	if s.RPM != nil {
		d.Metrics.RPM = model.Float(*s.RPM)
	}
	if s.Power != nil {
		d.Metrics.Power = model.Float(*s.Power)
	}
	if s.Distance != nil {
		d.Metrics.Distance = model.Float(*s.Distance)
	}
}

// Get returns a copy of one device.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Known returns every device sorted by id.
func (r *Registry) Known() []Device {
	return r.filter(func(*Device) bool { return true })
}

// Active returns devices seen within stale of now, sorted by id.
// A non-positive stale disables the window.
func (r *Registry) Active(now time.Time, stale time.Duration) []Device {
	return r.filter(func(d *Device) bool {
		return stale <= 0 || now.Sub(d.LastSeen) <= stale
	})
}

// LastActivity returns the most recent LastSeen across devices.
func (r *Registry) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last time.Time
	for _, d := range r.devices {
		if d.LastSeen.After(last) {
			last = d.LastSeen
		}
	}
	return last
}

// Reset forgets every device.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.devices = make(map[string]*Device)
	r.mu.Unlock()
}

func (r *Registry) filter(keep func(*Device) bool) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		if keep(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
