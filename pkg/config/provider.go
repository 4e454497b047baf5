// Package config loads and persists the gateway configuration. Two backends
// are supported: a JSON file (the format the firmware uses) and a SQLite
// database for installs that want transactional updates.
package config

import "time"

// Defaults for absent configuration keys.
const (
	DefaultLogLevel   = "info"
	DefaultTimezone   = "CET-1CEST,M3.5.0,M10.5.0/3"
	DefaultMQTTPort   = 1883
	DefaultMQTTPrefix = "explora"
	DefaultHAPrefix   = "homeassistant"
)

// Provider is the interface for configuration data sources.
type Provider interface {
	Load() (*Settings, error)
	Save(*Settings) error
	IsReadOnly() bool
	Close() error
}

// Settings is the complete gateway configuration.
type Settings struct {
	SSID       string
	Password   string
	ConfigMode bool
	LogLevel   string
	Timezone   string

	MQTT MQTTSettings

	// HTTPVerifyTLS enables certificate verification on the per-device HTTP
	// callbacks. Off by default; most callback targets run self-signed.
	HTTPVerifyTLS bool

	// ArchiveDSN, when set, enables the TimescaleDB readings archive.
	ArchiveDSN string

	// Radio front-end attachment.
	RadioDevice string
	RadioBaud   int
}

// MQTTSettings configures the broker session and Home Assistant discovery.
type MQTTSettings struct {
	Host      string
	Port      int
	User      string
	Password  string
	Enabled   bool
	TLS       bool
	Prefix    string
	HAEnabled bool
	HAPrefix  string
}

// DefaultSettings returns a Settings with every absent-key default applied.
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel: DefaultLogLevel,
		Timezone: DefaultTimezone,
		MQTT: MQTTSettings{
			Port:      DefaultMQTTPort,
			Prefix:    DefaultMQTTPrefix,
			HAEnabled: true,
			HAPrefix:  DefaultHAPrefix,
		},
	}
}

// Location resolves the configured timezone to a time.Location. The firmware
// stores a POSIX TZ string which Go cannot parse directly; the stock default
// maps to its IANA equivalent, anything else is tried as an IANA name, and
// unresolvable values fall back to the host's local zone.
func (s *Settings) Location() *time.Location {
	if s.Timezone == "" || s.Timezone == DefaultTimezone {
		if loc, err := time.LoadLocation("Europe/Prague"); err == nil {
			return loc
		}
		return time.Local
	}
	if loc, err := time.LoadLocation(s.Timezone); err == nil {
		return loc
	}
	return time.Local
}
