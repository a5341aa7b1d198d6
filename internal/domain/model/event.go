// Package model contains domain models passed between layers.
package model

import "time"

// Device types reported by sensors.
const (
	DeviceHeartRate = "heart_rate"
	DeviceCadence   = "cadence"
	DevicePower     = "power"
	DeviceBike      = "bike"
)

// DeviceSample is one normalized reading from a wearable or bike sensor.
// Absent fields are nil; present fields are still unvalidated.
type DeviceSample struct {
	DeviceID  string    // sensor identifier, e.g. an ANT+ device number
	Type      string    // one of the Device* constants
	Timestamp time.Time // when the sensor produced the reading
	HeartRate *float64
	RPM       *float64
	Power     *float64
	Distance  *float64
}

// DedupeKey identifies a sample for duplicate suppression.
func (s DeviceSample) DedupeKey() string {
	return s.DeviceID + "|" + s.Timestamp.UTC().Format(time.RFC3339Nano)
}

// RawMetrics is the latest unvalidated reading of a device.
type RawMetrics struct {
	HeartRate *float64
	RPM       *float64
	Power     *float64
	Distance  *float64
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
