// Package gateway contains the ingestion coordinator: the single cooperative
// loop that pumps frames from the radio through decode, calibration, and the
// HTTP/MQTT fan-out.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/protocol"
	"github.com/pajenicko/explora-gateway/internal/radio"
	"github.com/pajenicko/explora-gateway/internal/registry"
	"github.com/pajenicko/explora-gateway/internal/storage"
)

const (
	// pollInterval is how often the radio's RX-done flag is polled. Sensor
	// uplinks arrive tens of seconds apart; this only bounds latency.
	defaultPollInterval = 25 * time.Millisecond

	// sessionInterval drives the MQTT reconnect/discovery state machine.
	sessionInterval = 30 * time.Second
)

// StatePublisher is the MQTT fan-out consumed by the coordinator.
type StatePublisher interface {
	Enabled() bool
	Connected() bool
	EnsureSession()
	PublishState(*registry.Device) error
	PublishDiscoveryForDevice(*registry.Device)
	RemoveDiscovery(serial uint32)
	Disconnect()
}

// HTTPForwarder is the per-device GET callback consumed by the coordinator.
type HTTPForwarder interface {
	Forward(*registry.Device) error
}

// Coordinator owns the ingestion loop and the timers that drive the MQTT
// session. All per-frame work happens on one goroutine, so for any device
// the registry store happens-before both fan-outs, and frames are processed
// in radio order.
type Coordinator struct {
	radio     radio.Driver
	registry  *registry.Registry
	forwarder HTTPForwarder
	publisher StatePublisher
	archive   chan<- storage.ArchiveEntry

	pollInterval time.Duration
	stats        Stats
}

// New wires a coordinator. archive may be nil when no archive backend is
// configured.
func New(rd radio.Driver, reg *registry.Registry, fwd HTTPForwarder, pub StatePublisher, archive chan<- storage.ArchiveEntry) *Coordinator {
	return &Coordinator{
		radio:        rd,
		registry:     reg,
		forwarder:    fwd,
		publisher:    pub,
		archive:      archive,
		pollInterval: defaultPollInterval,
	}
}

// Run pumps the ingestion loop until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	poll := time.NewTicker(c.pollInterval)
	defer poll.Stop()
	session := time.NewTicker(sessionInterval)
	defer session.Stop()

	// Bring the broker session up without waiting for the first tick.
	c.publisher.EnsureSession()

	log.Info("ingestion coordinator started")
	for {
		select {
		case <-ctx.Done():
			log.Info("cancellation request received, stopping ingestion coordinator")
			c.publisher.Disconnect()
			return
		case <-session.C:
			c.publisher.EnsureSession()
		case <-poll.C:
			c.pumpOnce()
		}
	}
}

// pumpOnce drains every frame the radio has pending. Fan-out failures are
// logged and never delay the next poll beyond their own duration.
func (c *Coordinator) pumpOnce() {
	for {
		frame, err := c.radio.Receive()
		if err != nil {
			log.Errorf("radio receive failed: %v", err)
			if err := c.radio.Reset(); err != nil {
				log.Errorf("radio reset failed: %v", err)
			}
			return
		}
		if frame == nil {
			return
		}
		c.processFrame(frame)
	}
}

// processFrame runs one frame through decode → calibrate → store → fan-out.
func (c *Coordinator) processFrame(frame *radio.Frame) {
	c.stats.received.Add(1)
	log.Debugf("received frame: %d bytes, RSSI %d dBm, SNR %.2f dB",
		len(frame.Data), frame.RSSI, frame.SNR)

	devices := c.registry.SnapshotActive()
	candidates := make([]protocol.Candidate, len(devices))
	for i := range devices {
		candidates[i] = protocol.Candidate{
			Handle: int(devices[i].Handle),
			Serial: devices[i].Serial,
			Key:    devices[i].Key,
			Kind:   devices[i].Kind,
		}
	}

	match, err := protocol.TryDecode(frame.Data, candidates)
	if err != nil {
		var rejection *protocol.RejectionError
		var unknownKind *protocol.UnknownKindError
		switch {
		case errors.Is(err, protocol.ErrUnknownDevice):
			c.stats.unknown.Add(1)
			log.Debug("unknown sensor detected, dropping frame")
		case errors.As(err, &rejection), errors.As(err, &unknownKind):
			c.stats.rejected.Add(1)
			log.Warnf("dropping packet: %v", err)
		default:
			c.stats.rejected.Add(1)
			log.Debugf("dropping frame: %v", err)
		}
		return
	}

	m, rained, err := c.registry.ApplyReading(registry.Handle(match.Handle), match.Measurement, frame.RSSI)
	if err != nil {
		log.Errorf("failed to apply reading for SN %06x: %v", match.Serial, err)
		return
	}
	c.stats.matched.Add(1)

	dev, ok := c.registry.Get(registry.Handle(match.Handle))
	if !ok {
		return
	}
	log.Infof("%s data updated: %s", dev.Name, describeReading(&dev))

	// Fan-out. The registry store above happens-before both of these.
	if dev.CustomURL != "" {
		if err := c.forwarder.Forward(&dev); err != nil {
			log.Warnf("HTTP forward for %s failed: %v", dev.Name, err)
		}
	}

	if c.publisher.Enabled() && c.publisher.Connected() {
		if err := c.publisher.PublishState(&dev); err != nil {
			log.Warnf("MQTT publish for %s failed: %v", dev.Name, err)
		}
	}

	if c.archive != nil {
		entry := storage.ArchiveEntry{Device: dev, Measurement: m, At: time.Now()}
		select {
		case c.archive <- entry:
		default:
			log.Warn("archive backlogged, dropping reading")
		}
	}

	// Persist whenever rain was accumulated so the daily total survives a
	// reboot.
	if rained {
		if err := c.registry.Persist(); err != nil {
			log.Errorf("failed to persist device registry: %v", err)
		}
	}
}

// NotifyDeviceUpdated is called by the admin surface after a device was
// created or modified: the registry is persisted and the device's discovery
// documents re-published.
func (c *Coordinator) NotifyDeviceUpdated(h registry.Handle) {
	if err := c.registry.Persist(); err != nil {
		log.Errorf("failed to persist device registry: %v", err)
	}
	if dev, ok := c.registry.Get(h); ok {
		c.publisher.PublishDiscoveryForDevice(&dev)
	}
}

// NotifyDeviceDeleting is called by the admin surface before a device is
// removed so its retained discovery documents can be retracted.
func (c *Coordinator) NotifyDeviceDeleting(serial uint32) {
	c.publisher.RemoveDiscovery(serial)
}

// NotifyDeviceDeleted persists the registry after the slot was freed.
func (c *Coordinator) NotifyDeviceDeleted() {
	if err := c.registry.Persist(); err != nil {
		log.Errorf("failed to persist device registry: %v", err)
	}
}
