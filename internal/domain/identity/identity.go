// Package identity resolves device ids to stable participant identities.
//
// Resolution priority, highest first:
//  1. an explicit assignment in the Ledger
//  2. a registered user in the Directory that owns the device
//  3. the raw device id, flagged as a fallback
//
// Fallback identities are never used to build persisted series keys.
package identity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source names where a Resolution came from.
type Source string

// Resolution sources.
const (
	SourceLedger    Source = "ledger"
	SourceDirectory Source = "directory"
	SourceFallback  Source = "fallback"
)

// User is a registered participant.
type User struct {
	ID            string             `json:"id" koanf:"id"`
	Name          string             `json:"name" koanf:"name"`
	Devices       []string           `json:"devices" koanf:"devices"`
	ZoneOverrides map[string]float64 `json:"zone_overrides,omitempty" koanf:"zone_overrides"`
}

// Assignment is an explicit ledger entry for a device.
type Assignment struct {
	DeviceID      string    `json:"device_id"`
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	Guest         bool      `json:"guest"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// Resolution is the identity a device currently maps to.
type Resolution struct {
	DeviceID      string
	ParticipantID string
	Name          string
	Source        Source
	Guest         bool
}

// Fallback reports whether the resolution is the last-resort raw device id.
func (r Resolution) Fallback() bool { return r.Source == SourceFallback }

// Mismatch is a ledger entry that disagrees with the directory owner of a device.
type Mismatch struct {
	DeviceID      string `json:"device_id"`
	LedgerID      string `json:"ledger_id"`
	DirectoryID   string `json:"directory_id"`
	LedgerIsGuest bool   `json:"ledger_is_guest"`
}

var invalidIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// NormalizeID turns a free-form label into a key-safe participant id.
func NormalizeID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	id = invalidIDChars.ReplaceAllString(id, "_")
	return strings.Trim(id, "_")
}

// Directory is the registered-user roster.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]User
	byDevice map[string]string
}

// NewDirectory builds a directory from users. Ids are normalized.
func NewDirectory(users []User) (*Directory, error) {
	d := &Directory{}
	if err := d.Replace(users); err != nil {
		return nil, err
	}
	return d, nil
}

// Replace swaps the whole roster.
func (d *Directory) Replace(users []User) error {
	byID := make(map[string]User, len(users))
	byDevice := make(map[string]string)
	for _, u := range users {
		id := NormalizeID(u.ID)
		if id == "" {
			return fmt.Errorf("%w: %q", ErrInvalidID, u.ID)
		}
		u.ID = id
		if u.Name == "" {
			u.Name = id
		}
		for _, dev := range u.Devices {
			if owner, taken := byDevice[dev]; taken && owner != id {
				return fmt.Errorf("%w: %s (%s, %s)", ErrDuplicateOwner, dev, owner, id)
			}
			byDevice[dev] = id
		}
		byID[id] = u
	}
	d.mu.Lock()
	d.users = byID
	d.byDevice = byDevice
	d.mu.Unlock()
	return nil
}

// UserForDevice returns the registered owner of deviceID.
func (d *Directory) UserForDevice(deviceID string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byDevice[deviceID]
	if !ok {
		return User{}, false
	}
	return d.users[id], true
}

// User returns the user with id.
func (d *Directory) User(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Users returns every user sorted by id.
func (d *Directory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ledger records explicit device assignments made during a session.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]Assignment
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]Assignment)}
}

// Assign records a for its device, replacing any previous entry.
func (l *Ledger) Assign(a Assignment) error {
	a.ParticipantID = NormalizeID(a.ParticipantID)
	if a.ParticipantID == "" || a.DeviceID == "" {
		return fmt.Errorf("%w: device %q participant %q", ErrInvalidID, a.DeviceID, a.ParticipantID)
	}
	if a.Name == "" {
		a.Name = a.ParticipantID
	}
	l.mu.Lock()
	l.entries[a.DeviceID] = a
	l.mu.Unlock()
	return nil
}

// Unassign removes the entry for deviceID.
func (l *Ledger) Unassign(deviceID string) (Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.entries[deviceID]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	delete(l.entries, deviceID)
	return a, nil
}

// Get returns the entry for deviceID.
func (l *Ledger) Get(deviceID string) (Assignment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.entries[deviceID]
	return a, ok
}

// Entries returns every assignment sorted by device id.
func (l *Ledger) Entries() []Assignment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Assignment, 0, len(l.entries))
	for _, a := range l.entries {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Reset clears every assignment.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = make(map[string]Assignment)
	l.mu.Unlock()
}

// Resolver applies the resolution priority over a ledger and a directory.
type Resolver struct {
	ledger    *Ledger
	directory *Directory
}

// NewResolver wires a resolver. Either collaborator may be nil.
func NewResolver(ledger *Ledger, directory *Directory) *Resolver {
	return &Resolver{ledger: ledger, directory: directory}
}

// Resolve returns the identity deviceID currently maps to.
func (r *Resolver) Resolve(deviceID string) Resolution {
	if r.ledger != nil {
		if a, ok := r.ledger.Get(deviceID); ok {
			return Resolution{DeviceID: deviceID, ParticipantID: a.ParticipantID, Name: a.Name, Source: SourceLedger, Guest: a.Guest}
		}
	}
	if r.directory != nil {
		if u, ok := r.directory.UserForDevice(deviceID); ok {
			return Resolution{DeviceID: deviceID, ParticipantID: u.ID, Name: u.Name, Source: SourceDirectory}
		}
	}
	return Resolution{DeviceID: deviceID, ParticipantID: deviceID, Name: deviceID, Source: SourceFallback}
}

// Reconcile lists every device whose ledger identity differs from its
// directory owner. Guest entries are included and flagged.
func (r *Resolver) Reconcile() []Mismatch {
	if r.ledger == nil || r.directory == nil {
		return nil
	}
	var out []Mismatch
	for _, a := range r.ledger.Entries() {
		u, ok := r.directory.UserForDevice(a.DeviceID)
		if !ok || u.ID == a.ParticipantID {
			continue
		}
		out = append(out, Mismatch{DeviceID: a.DeviceID, LedgerID: a.ParticipantID, DirectoryID: u.ID, LedgerIsGuest: a.Guest})
	}
	return out
}
