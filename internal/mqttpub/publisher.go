// Package mqttpub maintains the broker session and publishes per-field state
// topics plus retained Home Assistant discovery documents for every
// registered device.
package mqttpub

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/registry"
)

const (
	// ReconnectInterval bounds how often a broker connection is attempted.
	ReconnectInterval = 30 * time.Second

	// DiscoveryInterval is the cadence for re-publishing retained discovery
	// documents while connected.
	DiscoveryInterval = time.Hour

	// statusGraceDelay gives Home Assistant time to subscribe to the
	// availability topic before the online status lands.
	statusGraceDelay = 500 * time.Millisecond

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config is the broker configuration persisted alongside the gateway
// settings.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	TLS       bool
	Enabled   bool
	TopicRoot string // default "explora"
	HAEnabled bool
	HARoot    string // default "homeassistant"
}

// Publisher owns the single long-lived MQTT session. It is driven from the
// coordinator's timer: EnsureSession handles reconnection and the hourly
// discovery refresh.
type Publisher struct {
	mu       sync.Mutex
	cfg      Config
	client   mqtt.Client
	clientID string

	snapshot func() []registry.Device

	lastConnectAttempt time.Time
	lastDiscovery      time.Time

	// Serials whose discovery retraction could not be delivered yet; flushed
	// on the next successful connect.
	pendingRetractions map[uint32]struct{}
}

// New creates a publisher. snapshot supplies the current device registry for
// discovery publication. The client is not connected until EnsureSession runs.
func New(cfg Config, snapshot func() []registry.Device) *Publisher {
	p := &Publisher{
		cfg:                cfg,
		snapshot:           snapshot,
		clientID:           buildClientID(),
		pendingRetractions: make(map[uint32]struct{}),
	}

	if !cfg.Enabled {
		log.Info("MQTT integration disabled in configuration")
		return p
	}

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)).
		SetClientID(p.clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetWill(p.statusTopic(), "offline", 0, true)

	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		// TODO: allow configuring a CA bundle instead of skipping validation.
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}

	p.client = mqtt.NewClient(opts)
	log.Infof("MQTT initialized with broker %s:%d", cfg.Host, cfg.Port)
	return p
}

// buildClientID derives the client id from the host's MAC address the way
// the gateway firmware does. Hosts without a usable interface fall back to a
// random id.
func buildClientID() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			mac := strings.ToLower(strings.ReplaceAll(iface.HardwareAddr.String(), ":", ""))
			return "explora-gw-" + mac
		}
	}
	return "explora-gw-" + uuid.New().String()[:12]
}

// Enabled reports whether MQTT integration is configured on.
func (p *Publisher) Enabled() bool {
	return p.cfg.Enabled
}

// Connected reports whether the broker session is up.
func (p *Publisher) Connected() bool {
	return p.cfg.Enabled && p.client != nil && p.client.IsConnected()
}

// EnsureSession drives the reconnect state machine. It is called from the
// coordinator's 30-second timer: disconnected sessions are redialed at most
// every ReconnectInterval, and connected sessions get their discovery
// documents refreshed every DiscoveryInterval.
func (p *Publisher) EnsureSession() {
	if !p.cfg.Enabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.client.IsConnected() {
		if time.Since(p.lastConnectAttempt) < ReconnectInterval && !p.lastConnectAttempt.IsZero() {
			return
		}
		p.lastConnectAttempt = time.Now()
		p.connectLocked()
		return
	}

	if time.Since(p.lastDiscovery) > DiscoveryInterval {
		p.publishDiscoveryLocked()
	}
}

// connectLocked dials the broker and, on success, announces availability and
// re-publishes discovery.
func (p *Publisher) connectLocked() {
	log.Debug("attempting to connect to MQTT broker...")

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		log.Warnf("failed to connect to MQTT broker: %v", token.Error())
		return
	}

	log.Info("connected to MQTT broker")

	// Give the broker's subscribers a moment before the retained status
	// flips, then announce, deliver any retractions deferred while the
	// broker was down, and refresh discovery.
	time.Sleep(statusGraceDelay)
	p.publish(p.statusTopic(), "online", true)
	p.flushRetractionsLocked()
	p.publishDiscoveryLocked()
}

// Disconnect announces offline and closes the session.
func (p *Publisher) Disconnect() {
	if !p.cfg.Enabled || p.client == nil || !p.client.IsConnected() {
		return
	}
	log.Info("disconnecting from MQTT broker")
	p.publish(p.statusTopic(), "offline", true)
	p.client.Disconnect(250)
}

// PublishState publishes the device's latest reading to its per-field state
// topics. Skipped silently while disconnected; the radio keeps priority.
func (p *Publisher) PublishState(dev *registry.Device) error {
	if !p.Connected() {
		return nil
	}
	if dev.LastReading == nil {
		return nil
	}

	base := p.cfg.TopicRoot + "/" + serialHex(dev.Serial)
	for _, fv := range stateValues(dev) {
		if err := p.publish(base+"/"+fv.field, fv.value, false); err != nil {
			return err
		}
	}

	log.Debugf("published MQTT state for device %s", dev.Name)
	return nil
}

// PublishDiscovery re-publishes every device's discovery documents at once.
// Admin mutations go through PublishDiscoveryForDevice instead.
func (p *Publisher) PublishDiscovery() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishDiscoveryLocked()
}

func (p *Publisher) publishDiscoveryLocked() {
	if !p.cfg.HAEnabled || !p.Connected() {
		return
	}

	devices := p.snapshot()
	for i := range devices {
		p.publishDiscoveryForDeviceLocked(&devices[i])
	}
	p.lastDiscovery = time.Now()
	log.Infof("Home Assistant discovery published for %d devices", len(devices))
}

// PublishDiscoveryForDevice publishes the retained discovery documents for a
// single device, typically right after it was created or updated.
func (p *Publisher) PublishDiscoveryForDevice(dev *registry.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.HAEnabled || !p.Connected() {
		return
	}
	p.publishDiscoveryForDeviceLocked(dev)
}

func (p *Publisher) publishDiscoveryForDeviceLocked(dev *registry.Device) {
	for _, doc := range discoveryDocuments(&p.cfg, dev) {
		if err := p.publish(doc.topic, string(doc.payload), true); err != nil {
			log.Warnf("failed to publish discovery for %s: %v", dev.Name, err)
			return
		}
	}
	log.Debugf("published discovery for device %s", dev.Name)
}

// RemoveDiscovery retracts a deleted device's discovery documents by
// overwriting each retained topic with an empty payload. Must run before the
// registry slot is freed. While the broker is down the serial is queued and
// retracted on the next reconnect so retained documents never outlive the
// device.
func (p *Publisher) RemoveDiscovery(serial uint32) {
	if !p.cfg.HAEnabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.Connected() {
		log.Infof("MQTT down, deferring discovery retraction for SN %s", serialHex(serial))
		p.pendingRetractions[serial] = struct{}{}
		return
	}
	p.retractLocked(serial)
}

func (p *Publisher) retractLocked(serial uint32) {
	log.Infof("removing MQTT discovery for device SN %s", serialHex(serial))
	for _, topic := range retractionTopics(&p.cfg, serial) {
		if err := p.publish(topic, "", true); err != nil {
			log.Warnf("discovery retraction for SN %s failed, will retry on reconnect: %v",
				serialHex(serial), err)
			p.pendingRetractions[serial] = struct{}{}
			return
		}
	}
	delete(p.pendingRetractions, serial)
}

func (p *Publisher) flushRetractionsLocked() {
	serials := make([]uint32, 0, len(p.pendingRetractions))
	for serial := range p.pendingRetractions {
		serials = append(serials, serial)
	}
	for _, serial := range serials {
		p.retractLocked(serial)
	}
}

func (p *Publisher) publish(topic, payload string, retained bool) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) statusTopic() string {
	return p.cfg.TopicRoot + "/status"
}

func serialHex(serial uint32) string {
	return fmt.Sprintf("%x", serial)
}
