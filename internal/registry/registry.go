package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pajenicko/explora-gateway/internal/clock"
	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/types"
)

// MaxDevices is the fixed registry capacity. This is a design invariant of
// the trial-decryption scheme, not a tunable.
const MaxDevices = 20

var (
	// ErrRegistryFull is returned when all slots are occupied.
	ErrRegistryFull = errors.New("registry full")

	// ErrSerialCollision is returned when a config update would assign a
	// serial already owned by another device.
	ErrSerialCollision = errors.New("serial number already in use")

	// ErrNoSuchDevice is returned for handles that do not address an
	// occupied slot.
	ErrNoSuchDevice = errors.New("no such device")
)

// Registry is the single shared mutable structure between the ingestion loop
// and the administrative surface.
type Registry struct {
	mu    sync.Mutex
	slots [MaxDevices]slot
	path  string
	clock clock.Clock
}

type slot struct {
	occupied bool
	dev      Device
}

// New creates an empty registry persisting to path.
func New(path string, clk clock.Clock) *Registry {
	return &Registry{path: path, clock: clk}
}

// DeviceConfig carries a full device configuration for UpdateConfig.
type DeviceConfig struct {
	Name        string
	Kind        types.DeviceKind
	Serial      uint32
	Key         uint32
	CustomURL   string
	Altitude    int
	Calibration Calibration
}

// InsertOrUpdate registers a device. An existing device with the same serial
// has its kind, key, and name overwritten; otherwise a free slot is claimed.
func (r *Registry) InsertOrUpdate(kind types.DeviceKind, serial, key uint32, name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.findBySerialLocked(serial); ok {
		s := &r.slots[h]
		s.dev.Kind = kind
		s.dev.Key = key
		s.dev.Name = name
		log.Infof("updated existing device %s (SN %06x)", name, serial)
		return h, nil
	}

	for i := range r.slots {
		if r.slots[i].occupied {
			continue
		}
		r.slots[i] = slot{
			occupied: true,
			dev: Device{
				Handle:      Handle(i),
				Kind:        kind,
				Serial:      serial,
				Key:         key,
				Name:        name,
				Calibration: IdentityCalibration(),
			},
		}
		log.Infof("registered new device %s (SN %06x)", name, serial)
		return Handle(i), nil
	}

	return 0, ErrRegistryFull
}

// UpdateConfig atomically replaces a device's configuration. The device's
// ingestion state (last reading, rain accumulator) is preserved.
func (r *Registry) UpdateConfig(h Handle, cfg DeviceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}

	if other, ok := r.findBySerialLocked(cfg.Serial); ok && other != h {
		return fmt.Errorf("%w: %06x owned by %q", ErrSerialCollision, cfg.Serial, r.slots[other].dev.Name)
	}

	s.dev.Name = cfg.Name
	s.dev.Kind = cfg.Kind
	s.dev.Serial = cfg.Serial
	s.dev.Key = cfg.Key
	s.dev.CustomURL = cfg.CustomURL
	s.dev.Altitude = cfg.Altitude
	s.dev.Calibration = cfg.Calibration

	log.Infof("updated configuration for device %s (SN %06x)", cfg.Name, cfg.Serial)
	return nil
}

// Delete frees a slot. Callers are expected to retract the device's MQTT
// discovery documents before deleting.
func (r *Registry) Delete(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}

	log.Infof("deleted device %s (SN %06x)", s.dev.Name, s.dev.Serial)
	*s = slot{}
	return nil
}

// SnapshotActive copies all registered devices, in slot order.
func (r *Registry) SnapshotActive() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Device, 0, MaxDevices)
	for i := range r.slots {
		if r.slots[i].occupied {
			out = append(out, copyDevice(&r.slots[i].dev))
		}
	}
	return out
}

// FindBySerial returns a copy of the device owning serial.
func (r *Registry) FindBySerial(serial uint32) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.findBySerialLocked(serial); ok {
		return copyDevice(&r.slots[h].dev), true
	}
	return Device{}, false
}

// Get returns a copy of the device at handle h.
func (r *Registry) Get(h Handle) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.slotLocked(h)
	if err != nil {
		return Device{}, false
	}
	return copyDevice(&s.dev), true
}

// Count returns the number of occupied slots.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].occupied {
			n++
		}
	}
	return n
}

// ApplyReading calibrates a raw measurement, rolls the rain day over when the
// local date has changed, and stores the result on the device. Returns the
// calibrated measurement and whether rain was accumulated (the caller
// persists the registry in that case so the accumulator survives reboots).
func (r *Registry) ApplyReading(h Handle, raw types.Measurement, rssi int16) (types.Measurement, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.slotLocked(h)
	if err != nil {
		return types.Measurement{}, false, err
	}
	dev := &s.dev

	m := raw
	m.RSSI = rssi
	dev.Calibration.apply(&m, dev.Altitude)

	rained := false
	if m.Info().HasRainAmount {
		now := r.clock.Now()
		if r.clock.Synced() {
			if dev.LastRainReset.IsZero() || !sameLocalDate(dev.LastRainReset, now) {
				log.Infof("resetting daily rain total for device %s", dev.Name)
				dev.DailyRain = 0
				dev.LastRainReset = now
			}
		}
		dev.DailyRain += m.RainAmount
		rained = m.RainAmount > 0
	}

	dev.LastSeen = time.Now()
	stored := m
	dev.LastReading = &stored

	return m, rained, nil
}

// sameLocalDate compares calendar dates in b's (the gateway's) location, so
// a reset timestamp restored from persistence rolls over correctly.
func sameLocalDate(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (r *Registry) slotLocked(h Handle) (*slot, error) {
	if h < 0 || int(h) >= MaxDevices || !r.slots[h].occupied {
		return nil, ErrNoSuchDevice
	}
	return &r.slots[h], nil
}

func (r *Registry) findBySerialLocked(serial uint32) (Handle, bool) {
	for i := range r.slots {
		if r.slots[i].occupied && r.slots[i].dev.Serial == serial {
			return Handle(i), true
		}
	}
	return 0, false
}

func copyDevice(d *Device) Device {
	out := *d
	if d.LastReading != nil {
		reading := *d.LastReading
		out.LastReading = &reading
	}
	return out
}
