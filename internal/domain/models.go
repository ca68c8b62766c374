package domain

import "time"

// AllDevices is the device selector value meaning "no device filter".
const AllDevices = "__ALL__"

// Reading is one telemetry sample reported by a device.
type Reading struct {
	ID        string    `db:"id" json:"id"`
	DeviceID  string    `db:"device_id" json:"device_id"`
	EnergyWh  float64   `db:"energy_wh" json:"energyWh"`
	PowerW    float64   `db:"power_w" json:"powerW"`
	VoltageV  *float64  `db:"voltage_v" json:"voltageV,omitempty"`
	CurrentA  *float64  `db:"current_a" json:"currentA,omitempty"`
	Timestamp time.Time `db:"ts" json:"timestamp"`
}

type DeviceType string

const (
	DeviceMeter    DeviceType = "meter"
	DeviceInverter DeviceType = "inverter"
	DeviceBattery  DeviceType = "battery"
)

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// DefaultDeviceName is used when a device registers without a name.
const DefaultDeviceName = "My Smart Meter"

// Device is a registered telemetry source owned by a user.
type Device struct {
	DeviceID     string       `db:"device_id" json:"device_id"`
	UserID       string       `db:"user_id" json:"user_id"`
	Name         string       `db:"name" json:"name"`
	Type         DeviceType   `db:"type" json:"type"`
	Status       DeviceStatus `db:"status" json:"status"`
	RegisteredAt time.Time    `db:"registered_at" json:"registeredAt"`
}

// ApplyDefaults fills the optional registration fields.
func (d *Device) ApplyDefaults(now time.Time) {
	if d.Name == "" {
		d.Name = DefaultDeviceName
	}
	if d.Type == "" {
		d.Type = DeviceMeter
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = now
	}
}

// Order is the timestamp sort direction of a reading listing.
type Order int

const (
	Desc Order = iota
	Asc
)

// ReadingFilter selects readings from a store. Zero values mean unbounded.
type ReadingFilter struct {
	DeviceID string
	Since    time.Time
	Until    time.Time
	Limit    int
	Order    Order
}

// EnergySpan holds the first and last cumulative counter values of one
// device inside a time window, ordered by reading timestamp.
type EnergySpan struct {
	DeviceID string  `db:"device_id" json:"device_id"`
	FirstWh  float64 `db:"first_wh" json:"firstWh"`
	LastWh   float64 `db:"last_wh" json:"lastWh"`
}

// DeltaKWh is the consumed energy in the span. Counter resets clamp to zero.
func (s EnergySpan) DeltaKWh() float64 {
	d := s.LastWh - s.FirstWh
	if d < 0 {
		d = 0
	}
	return d / 1000
}

// EnergyUsage is the per-device consumption over a window.
type EnergyUsage struct {
	DeviceID string  `json:"device_id"`
	KWh      float64 `json:"kWh"`
}
