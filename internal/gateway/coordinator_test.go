package gateway

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pajenicko/explora-gateway/internal/protocol"
	"github.com/pajenicko/explora-gateway/internal/radio"
	"github.com/pajenicko/explora-gateway/internal/registry"
	"github.com/pajenicko/explora-gateway/internal/types"
)

// fakeRadio hands out queued frames.
type fakeRadio struct {
	frames []*radio.Frame
}

func (f *fakeRadio) Init() error  { return nil }
func (f *fakeRadio) Reset() error { return nil }
func (f *fakeRadio) Close() error { return nil }
func (f *fakeRadio) Receive() (*radio.Frame, error) {
	if len(f.frames) == 0 {
		return nil, nil
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

// fakePublisher records publications.
type fakePublisher struct {
	enabled   bool
	connected bool
	states    []uint32 // serials published, in order
	discovery []uint32
	retracted []uint32
	sessions  int
}

func (f *fakePublisher) Enabled() bool   { return f.enabled }
func (f *fakePublisher) Connected() bool { return f.connected }
func (f *fakePublisher) EnsureSession()  { f.sessions++ }
func (f *fakePublisher) Disconnect()     {}
func (f *fakePublisher) PublishState(dev *registry.Device) error {
	f.states = append(f.states, dev.Serial)
	return nil
}
func (f *fakePublisher) PublishDiscoveryForDevice(dev *registry.Device) {
	f.discovery = append(f.discovery, dev.Serial)
}
func (f *fakePublisher) RemoveDiscovery(serial uint32) {
	f.retracted = append(f.retracted, serial)
}

// fakeForwarder records forwarded devices.
type fakeForwarder struct {
	forwarded []uint32
}

func (f *fakeForwarder) Forward(dev *registry.Device) error {
	f.forwarded = append(f.forwarded, dev.Serial)
	return nil
}

type syncedClock struct{ now time.Time }

func (c *syncedClock) Now() time.Time { return c.now }
func (c *syncedClock) Synced() bool   { return true }

func testCoordinator(t *testing.T) (*Coordinator, *registry.Registry, *fakeRadio, *fakeForwarder, *fakePublisher) {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "sensors.json"),
		&syncedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)})
	rd := &fakeRadio{}
	fwd := &fakeForwarder{}
	pub := &fakePublisher{enabled: true, connected: true}
	return New(rd, reg, fwd, pub, nil), reg, rd, fwd, pub
}

// encodeFrame builds an encrypted BME280 frame for the given identity.
func encodeFrame(serial, key uint32, temp int16) []byte {
	plain := []byte{
		0x42, byte(types.KindBME280),
		byte(serial >> 16), byte(serial >> 8), byte(serial),
		0x0B, 0xB8, // 3000 mV
		3,
		byte(uint16(temp) >> 8), byte(uint16(temp)),
		0x27, 0x10, // 1000.0 hPa
		0x10, 0xE0, // 43.20 %
	}
	plain = append(plain, protocol.Checksum(plain))
	return protocol.Encrypt(plain, key)
}

func TestProcessFrameHappyPath(t *testing.T) {
	c, reg, rd, fwd, pub := testCoordinator(t)

	h, _ := reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")
	rd.frames = append(rd.frames, &radio.Frame{Data: encodeFrame(0xABCDEF, 0xDEADBEEF, 2100), RSSI: -92})

	c.pumpOnce()

	dev, _ := reg.Get(h)
	if dev.LastReading == nil || dev.LastReading.Temperature != 21.0 {
		t.Fatalf("reading not stored: %+v", dev.LastReading)
	}
	if dev.LastReading.RSSI != -92 {
		t.Errorf("RSSI = %d, want -92", dev.LastReading.RSSI)
	}

	// No URL template: the HTTP fan-out must not fire.
	if len(fwd.forwarded) != 0 {
		t.Errorf("forwarder invoked for device without a URL: %v", fwd.forwarded)
	}

	// MQTT enabled and connected: one state publication.
	if len(pub.states) != 1 || pub.states[0] != 0xABCDEF {
		t.Errorf("state publications = %v, want [abcdef]", pub.states)
	}

	stats := c.Stats()
	if stats.Received != 1 || stats.Matched != 1 {
		t.Errorf("stats = %+v, want received=1 matched=1", stats)
	}
}

func TestProcessFrameHTTPAfterStore(t *testing.T) {
	c, reg, rd, fwd, _ := testCoordinator(t)

	h, _ := reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")
	reg.UpdateConfig(h, registry.DeviceConfig{
		Name: "garden", Kind: types.KindBME280, Serial: 0xABCDEF, Key: 0xDEADBEEF,
		CustomURL:   "http://sink/?t=*TEMP*",
		Calibration: registry.IdentityCalibration(),
	})
	rd.frames = append(rd.frames, &radio.Frame{Data: encodeFrame(0xABCDEF, 0xDEADBEEF, 2100), RSSI: -92})

	c.pumpOnce()

	if len(fwd.forwarded) != 1 || fwd.forwarded[0] != 0xABCDEF {
		t.Errorf("forwarded = %v, want [abcdef]", fwd.forwarded)
	}
}

func TestProcessFrameUnknownDevice(t *testing.T) {
	c, reg, rd, fwd, pub := testCoordinator(t)
	reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")

	// Encrypted under a key the registry does not hold.
	rd.frames = append(rd.frames, &radio.Frame{Data: encodeFrame(0x111111, 0x0BADF00D, 2100), RSSI: -80})
	c.pumpOnce()

	if len(fwd.forwarded) != 0 || len(pub.states) != 0 {
		t.Error("unknown frame must not reach the fan-out")
	}
	stats := c.Stats()
	if stats.Unknown != 1 || stats.Matched != 0 {
		t.Errorf("stats = %+v, want unknown=1", stats)
	}
}

func TestProcessFrameRejected(t *testing.T) {
	c, reg, rd, _, _ := testCoordinator(t)
	reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")

	// Temperature 70.00 °C is out of range.
	rd.frames = append(rd.frames, &radio.Frame{Data: encodeFrame(0xABCDEF, 0xDEADBEEF, 7000), RSSI: -80})
	c.pumpOnce()

	stats := c.Stats()
	if stats.Rejected != 1 || stats.Matched != 0 {
		t.Errorf("stats = %+v, want rejected=1", stats)
	}
}

func TestProcessFramesInOrder(t *testing.T) {
	c, reg, rd, _, pub := testCoordinator(t)
	h, _ := reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")

	rd.frames = append(rd.frames,
		&radio.Frame{Data: encodeFrame(0xABCDEF, 0xDEADBEEF, 1000), RSSI: -80},
		&radio.Frame{Data: encodeFrame(0xABCDEF, 0xDEADBEEF, 2000), RSSI: -80},
	)
	c.pumpOnce()

	// The second frame's value must be the stored one.
	dev, _ := reg.Get(h)
	if dev.LastReading.Temperature != 20.0 {
		t.Errorf("stored temperature = %v, want 20.0 (second frame)", dev.LastReading.Temperature)
	}
	if len(pub.states) != 2 {
		t.Errorf("expected two state publications, got %d", len(pub.states))
	}
}

func TestPublishSkippedWhileDisconnected(t *testing.T) {
	c, reg, rd, _, pub := testCoordinator(t)
	pub.connected = false
	reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")

	rd.frames = append(rd.frames, &radio.Frame{Data: encodeFrame(0xABCDEF, 0xDEADBEEF, 2100), RSSI: -80})
	c.pumpOnce()

	if len(pub.states) != 0 {
		t.Error("state publish must be skipped while disconnected")
	}
}

func TestNotifyDeviceLifecycle(t *testing.T) {
	c, reg, _, _, pub := testCoordinator(t)
	h, _ := reg.InsertOrUpdate(types.KindBME280, 0xABCDEF, 0xDEADBEEF, "garden")

	c.NotifyDeviceUpdated(h)
	if len(pub.discovery) != 1 || pub.discovery[0] != 0xABCDEF {
		t.Errorf("discovery publications = %v, want [abcdef]", pub.discovery)
	}

	c.NotifyDeviceDeleting(0xABCDEF)
	if len(pub.retracted) != 1 || pub.retracted[0] != 0xABCDEF {
		t.Errorf("retractions = %v, want [abcdef]", pub.retracted)
	}
}
