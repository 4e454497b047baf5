package mqttpub

import (
	"encoding/json"
	"strconv"

	"github.com/pajenicko/explora-gateway/internal/registry"
)

// fieldValue is one state-topic publication: the field segment of the topic
// and the formatted payload.
type fieldValue struct {
	field string
	value string
}

// stateValues formats the device's latest reading for its state topics. Only
// fields the kind carries are emitted; battery and RSSI are universal.
func stateValues(dev *registry.Device) []fieldValue {
	m := dev.LastReading
	info := dev.Info()

	var out []fieldValue
	if info.HasTemperature {
		out = append(out, fieldValue{"temperature", strconv.FormatFloat(m.Temperature, 'f', 2, 64)})
	}
	if info.HasHumidity {
		out = append(out, fieldValue{"humidity", strconv.FormatFloat(m.Humidity, 'f', 2, 64)})
	}
	if info.HasPressure {
		out = append(out, fieldValue{"pressure", strconv.FormatFloat(m.Pressure, 'f', 2, 64)})
	}
	if info.HasCO2 {
		out = append(out, fieldValue{"co2", strconv.Itoa(int(m.CO2))})
	}
	if info.HasLux {
		out = append(out, fieldValue{"illuminance", strconv.FormatFloat(m.Lux, 'f', 1, 64)})
	}
	if info.HasWindSpeed {
		out = append(out, fieldValue{"wind_speed", strconv.FormatFloat(m.WindSpeed, 'f', 1, 64)})
	}
	if info.HasWindDirection {
		out = append(out, fieldValue{"wind_direction", strconv.Itoa(int(m.WindDirection))})
	}
	if info.HasRainAmount {
		out = append(out, fieldValue{"rain_amount", strconv.FormatFloat(m.RainAmount, 'f', 1, 64)})
		out = append(out, fieldValue{"daily_rain", strconv.FormatFloat(dev.DailyRain, 'f', 1, 64)})
	}
	if info.HasRainRate {
		out = append(out, fieldValue{"rain_rate", strconv.FormatFloat(m.RainRate, 'f', 1, 64)})
	}

	out = append(out, fieldValue{"battery", strconv.FormatFloat(m.Battery, 'f', 2, 64)})
	out = append(out, fieldValue{"rssi", strconv.Itoa(int(m.RSSI))})
	return out
}

// fieldMeta maps a state-topic field to its Home Assistant entity metadata.
type fieldMeta struct {
	field       string
	displayName string
	deviceClass string
	unit        string
	precision   int // -1 = omit suggested_display_precision
}

// allFieldMeta lists every field the gateway can publish, in discovery
// publication order. Retraction walks the same list so deletes cover every
// topic the device could ever have had.
var allFieldMeta = []fieldMeta{
	{"temperature", "Temperature", "temperature", "°C", 1},
	{"humidity", "Humidity", "humidity", "%", 1},
	{"pressure", "Pressure", "pressure", "hPa", 1},
	{"co2", "CO2", "carbon_dioxide", "ppm", -1},
	{"illuminance", "Illuminance", "illuminance", "lx", 1},
	{"wind_speed", "Wind Speed", "wind_speed", "m/s", 1},
	{"wind_direction", "Wind Direction", "wind_direction", "°", -1},
	{"rain_amount", "Rain", "precipitation", "mm", 1},
	{"daily_rain", "Daily Rain Total", "precipitation", "mm", 1},
	{"rain_rate", "Rain Rate", "precipitation_intensity", "mm/h", 1},
	{"battery", "Battery", "voltage", "V", 2},
	{"rssi", "RSSI", "signal_strength", "dBm", -1},
}

// deviceFields returns the metadata rows applicable to one device kind.
func deviceFields(dev *registry.Device) []fieldMeta {
	info := dev.Info()
	has := map[string]bool{
		"temperature":    info.HasTemperature,
		"humidity":       info.HasHumidity,
		"pressure":       info.HasPressure,
		"co2":            info.HasCO2,
		"illuminance":    info.HasLux,
		"wind_speed":     info.HasWindSpeed,
		"wind_direction": info.HasWindDirection,
		"rain_amount":    info.HasRainAmount,
		"daily_rain":     info.HasRainAmount,
		"rain_rate":      info.HasRainRate,
		"battery":        true,
		"rssi":           true,
	}

	var out []fieldMeta
	for _, fm := range allFieldMeta {
		if has[fm.field] {
			out = append(out, fm)
		}
	}
	return out
}

// discoveryDoc is the Home Assistant discovery document published, retained,
// per device per field.
type discoveryDoc struct {
	Name                string      `json:"name"`
	StateTopic          string      `json:"state_topic"`
	ValueTemplate       string      `json:"value_template"`
	UniqueID            string      `json:"unique_id"`
	AvailabilityTopic   string      `json:"availability_topic"`
	PayloadAvailable    string      `json:"payload_available"`
	PayloadNotAvailable string      `json:"payload_not_available"`
	DeviceClass         string      `json:"device_class,omitempty"`
	Unit                string      `json:"unit_of_measurement,omitempty"`
	Precision           *int        `json:"suggested_display_precision,omitempty"`
	Device              deviceBlock `json:"device"`
}

type deviceBlock struct {
	Identifiers  string `json:"identifiers"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
}

type discoveryMessage struct {
	topic   string
	payload []byte
}

// discoveryTopic builds the retained config topic for one field of one
// device: {ha_root}/sensor/{topic_root}_{serial}_{field}/config.
func discoveryTopic(cfg *Config, serial uint32, field string) string {
	return cfg.HARoot + "/sensor/" + cfg.TopicRoot + "_" + serialHex(serial) + "_" + field + "/config"
}

// discoveryDocuments builds the full retained discovery set for a device.
func discoveryDocuments(cfg *Config, dev *registry.Device) []discoveryMessage {
	base := cfg.TopicRoot + "/" + serialHex(dev.Serial)

	var out []discoveryMessage
	for _, fm := range deviceFields(dev) {
		doc := discoveryDoc{
			Name:                fm.displayName,
			StateTopic:          base + "/" + fm.field,
			ValueTemplate:       "{{ value }}",
			UniqueID:            cfg.TopicRoot + "_" + serialHex(dev.Serial) + "_" + fm.field,
			AvailabilityTopic:   cfg.TopicRoot + "/status",
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
			DeviceClass:         fm.deviceClass,
			Unit:                fm.unit,
			Device: deviceBlock{
				Identifiers:  serialHex(dev.Serial),
				Name:         dev.Name,
				Model:        dev.Kind.String(),
				Manufacturer: "expLORA",
			},
		}
		if fm.precision >= 0 {
			precision := fm.precision
			doc.Precision = &precision
		}

		payload, err := json.Marshal(&doc)
		if err != nil {
			continue
		}
		out = append(out, discoveryMessage{
			topic:   discoveryTopic(cfg, dev.Serial, fm.field),
			payload: payload,
		})
	}
	return out
}

// retractionTopics lists every discovery topic a device with this serial may
// hold, regardless of kind; deletion overwrites each with an empty retained
// payload.
func retractionTopics(cfg *Config, serial uint32) []string {
	out := make([]string, 0, len(allFieldMeta))
	for _, fm := range allFieldMeta {
		out = append(out, discoveryTopic(cfg, serial, fm.field))
	}
	return out
}
