// Package registry owns the set of known sensor devices: their keys,
// calibration, routing configuration, and last-observed readings. All access
// is serialised through a single mutex; reads get cheap copies.
package registry

import (
	"time"

	"github.com/pajenicko/explora-gateway/internal/types"
)

// Handle addresses one registry slot. Handles stay valid until the slot is
// deleted; a deleted slot may be reused for a new device.
type Handle int

// Device is one registered sensor. Snapshots returned by the registry are
// by-value copies and safe to hold across suspension points.
type Device struct {
	Handle    Handle
	Kind      types.DeviceKind
	Serial    uint32 // 24-bit
	Key       uint32
	Name      string
	CustomURL string // empty = no HTTP fan-out
	Altitude  int    // metres, for sea-level pressure correction

	Calibration Calibration

	// Ingestion state.
	LastReading   *types.Measurement
	LastSeen      time.Time // zero until the first packet
	DailyRain     float64   // mm accumulated since the last local-midnight reset
	LastRainReset time.Time // zero until the first reset
}

// Info returns the capability row for the device's kind.
func (d *Device) Info() types.KindInfo {
	return types.KindInfoFor(d.Kind)
}
