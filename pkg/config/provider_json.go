package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// JSONProvider reads and writes the firmware's configuration document.
// Unknown keys in the file are ignored; absent keys take defaults.
type JSONProvider struct {
	path string
}

// configDocument mirrors the on-disk JSON. Pointer fields distinguish absent
// keys from explicit zero values so defaulting works.
type configDocument struct {
	SSID          *string `json:"ssid,omitempty"`
	Password      *string `json:"password,omitempty"`
	ConfigMode    *bool   `json:"configMode,omitempty"`
	LogLevel      *string `json:"logLevel,omitempty"`
	Timezone      *string `json:"timezone,omitempty"`
	MQTTHost      *string `json:"mqttHost,omitempty"`
	MQTTPort      *int    `json:"mqttPort,omitempty"`
	MQTTUser      *string `json:"mqttUser,omitempty"`
	MQTTPassword  *string `json:"mqttPassword,omitempty"`
	MQTTEnabled   *bool   `json:"mqttEnabled,omitempty"`
	MQTTTLS       *bool   `json:"mqttTls,omitempty"`
	MQTTPrefix    *string `json:"mqttPrefix,omitempty"`
	MQTTHAEnabled *bool   `json:"mqttHAEnabled,omitempty"`
	MQTTHAPrefix  *string `json:"mqttHAPrefix,omitempty"`
	HTTPVerifyTLS *bool   `json:"httpVerifyTls,omitempty"`
	ArchiveDSN    *string `json:"archiveDsn,omitempty"`
	RadioDevice   *string `json:"radioDevice,omitempty"`
	RadioBaud     *int    `json:"radioBaud,omitempty"`
}

// NewJSONProvider creates a provider backed by the given file path.
func NewJSONProvider(path string) *JSONProvider {
	return &JSONProvider{path: path}
}

// Load parses the configuration document. A missing file yields defaults.
func (p *JSONProvider) Load() (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", p.path, err)
	}

	var doc configDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", p.path, err)
	}

	applyDocument(settings, &doc)
	return settings, nil
}

// Save writes the full settings document atomically.
func (p *JSONProvider) Save(s *Settings) error {
	doc := toDocument(s)
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", p.path, err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("replacing config %s: %w", p.path, err)
	}
	return nil
}

func (p *JSONProvider) IsReadOnly() bool {
	return false
}

func (p *JSONProvider) Close() error {
	return nil
}

func applyDocument(s *Settings, doc *configDocument) {
	if doc.SSID != nil {
		s.SSID = *doc.SSID
	}
	if doc.Password != nil {
		s.Password = *doc.Password
	}
	if doc.ConfigMode != nil {
		s.ConfigMode = *doc.ConfigMode
	}
	if doc.LogLevel != nil {
		s.LogLevel = *doc.LogLevel
	}
	if doc.Timezone != nil {
		s.Timezone = *doc.Timezone
	}
	if doc.MQTTHost != nil {
		s.MQTT.Host = *doc.MQTTHost
	}
	if doc.MQTTPort != nil {
		s.MQTT.Port = *doc.MQTTPort
	}
	if doc.MQTTUser != nil {
		s.MQTT.User = *doc.MQTTUser
	}
	if doc.MQTTPassword != nil {
		s.MQTT.Password = *doc.MQTTPassword
	}
	if doc.MQTTEnabled != nil {
		s.MQTT.Enabled = *doc.MQTTEnabled
	}
	if doc.MQTTTLS != nil {
		s.MQTT.TLS = *doc.MQTTTLS
	}
	if doc.MQTTPrefix != nil {
		s.MQTT.Prefix = *doc.MQTTPrefix
	}
	if doc.MQTTHAEnabled != nil {
		s.MQTT.HAEnabled = *doc.MQTTHAEnabled
	}
	if doc.MQTTHAPrefix != nil {
		s.MQTT.HAPrefix = *doc.MQTTHAPrefix
	}
	if doc.HTTPVerifyTLS != nil {
		s.HTTPVerifyTLS = *doc.HTTPVerifyTLS
	}
	if doc.ArchiveDSN != nil {
		s.ArchiveDSN = *doc.ArchiveDSN
	}
	if doc.RadioDevice != nil {
		s.RadioDevice = *doc.RadioDevice
	}
	if doc.RadioBaud != nil {
		s.RadioBaud = *doc.RadioBaud
	}
}

func toDocument(s *Settings) configDocument {
	return configDocument{
		SSID:          &s.SSID,
		Password:      &s.Password,
		ConfigMode:    &s.ConfigMode,
		LogLevel:      &s.LogLevel,
		Timezone:      &s.Timezone,
		MQTTHost:      &s.MQTT.Host,
		MQTTPort:      &s.MQTT.Port,
		MQTTUser:      &s.MQTT.User,
		MQTTPassword:  &s.MQTT.Password,
		MQTTEnabled:   &s.MQTT.Enabled,
		MQTTTLS:       &s.MQTT.TLS,
		MQTTPrefix:    &s.MQTT.Prefix,
		MQTTHAEnabled: &s.MQTT.HAEnabled,
		MQTTHAPrefix:  &s.MQTT.HAPrefix,
		HTTPVerifyTLS: &s.HTTPVerifyTLS,
		ArchiveDSN:    &s.ArchiveDSN,
		RadioDevice:   &s.RadioDevice,
		RadioBaud:     &s.RadioBaud,
	}
}
