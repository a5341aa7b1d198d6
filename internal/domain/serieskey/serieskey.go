// Package serieskey defines the typed namespace of timeline series keys.
//
// A key has two or three colon-separated segments:
//
//	global:<metric>
//	user:<participantId>:<metric>
//	device:<deviceId>:<metric>
//
// Every segment must match [a-z0-9_-]+ (case-insensitive).
package serieskey

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Scope is the first segment of a key.
type Scope string

// Known scopes.
const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeDevice Scope = "device"
)

var segmentPattern = regexp.MustCompile(`(?i)^[a-z0-9_-]+$`)

// Key is a validated series key.
type Key struct {
	Scope   Scope
	Subject string // participant or device id; empty for global keys
	Metric  string
}

// Global builds a global:<metric> key.
func Global(metric string) (Key, error) {
	return build(ScopeGlobal, "", metric)
}

// User builds a user:<participantID>:<metric> key.
func User(participantID, metric string) (Key, error) {
	return build(ScopeUser, participantID, metric)
}

// Device builds a device:<deviceID>:<metric> key.
func Device(deviceID, metric string) (Key, error) {
	return build(ScopeDevice, deviceID, metric)
}

func build(scope Scope, subject, metric string) (Key, error) {
	k := Key{Scope: scope, Subject: subject, Metric: metric}
	if err := k.validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Parse validates raw and returns the typed key.
func Parse(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		if Scope(strings.ToLower(parts[0])) != ScopeGlobal {
			return Key{}, fmt.Errorf("%w: %q", ErrUnknownScope, raw)
		}
		return build(ScopeGlobal, "", parts[1])
	case 3:
		scope := Scope(strings.ToLower(parts[0]))
		if scope != ScopeUser && scope != ScopeDevice {
			return Key{}, fmt.Errorf("%w: %q", ErrUnknownScope, raw)
		}
		return build(scope, parts[1], parts[2])
	default:
		return Key{}, fmt.Errorf("%w: %q has %d segments", ErrMalformedKey, raw, len(parts))
	}
}

// Valid reports whether raw is a well-formed key.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

func (k Key) validate() error {
	if !segmentPattern.MatchString(k.Metric) {
		return fmt.Errorf("%w: bad metric %q", ErrMalformedKey, k.Metric)
	}
	switch k.Scope {
	case ScopeGlobal:
		if k.Subject != "" {
			return fmt.Errorf("%w: global key cannot carry a subject", ErrMalformedKey)
		}
	case ScopeUser, ScopeDevice:
		if !segmentPattern.MatchString(k.Subject) {
			return fmt.Errorf("%w: bad subject %q", ErrMalformedKey, k.Subject)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScope, k.Scope)
	}
	return nil
}

// String renders the key in its wire form.
func (k Key) String() string {
	if k.Scope == ScopeGlobal {
		return string(k.Scope) + ":" + k.Metric
	}
	return string(k.Scope) + ":" + k.Subject + ":" + k.Metric
}

// Filter returns the subset of payload whose keys are well formed, and the
// sorted list of keys that were dropped. It never fails.
func Filter(payload map[string]*float64) (map[string]*float64, []string) {
	clean := make(map[string]*float64, len(payload))
	var dropped []string
	for raw, v := range payload {
		if !Valid(raw) {
			dropped = append(dropped, raw)
			continue
		}
		clean[raw] = v
	}
	sort.Strings(dropped)
	return clean, dropped
}
