package protocol

import (
	"encoding/binary"

	"github.com/pajenicko/explora-gateway/internal/types"
)

// Frame layout, all multi-byte integers big-endian:
//
//	0      magic/version byte
//	1      device kind
//	2..4   24-bit serial
//	5..6   battery millivolts
//	7      declared payload value count
//	8..    payload, two bytes per value (the 4-byte lux word counts as two)
//	end-1  XOR checksum of all preceding bytes
const (
	headerLen     = 8
	minFrameLen   = headerLen + 1
	maxFrameLen   = 255
	maxValueCount = 10

	// METEO frames always declare six values; the 23-byte form carries an
	// extra rain-rate word the count does not account for.
	meteoFrameLen    = 21
	meteoFrameLenExt = 23
)

// SerialOf extracts the 24-bit device serial from a decrypted frame.
func SerialOf(plain []byte) uint32 {
	return uint32(plain[2])<<16 | uint32(plain[3])<<8 | uint32(plain[4])
}

// parseFrame validates a decrypted frame against the device's kind and
// decodes the measurement. The checksum is assumed to have been verified
// already. Range validation happens here, before any calibration.
func parseFrame(plain []byte, kind types.DeviceKind) (types.Measurement, error) {
	if len(plain) < minFrameLen {
		return types.Measurement{}, ErrFrameTooShort
	}

	wireKind := plain[1]
	if !types.KnownKind(types.DeviceKind(wireKind)) {
		return types.Measurement{}, &UnknownKindError{Value: wireKind}
	}
	if !types.KnownKind(kind) {
		return types.Measurement{}, &UnknownKindError{Value: uint8(kind)}
	}

	numValues := int(plain[7])
	if numValues > maxValueCount {
		return types.Measurement{}, &RejectionError{Field: "num_values", Value: float64(numValues)}
	}

	// Length contract: METEO is keyed on frame length because its extended
	// form still declares six values. Everything else must match the count.
	if kind == types.KindMeteo {
		if len(plain) != meteoFrameLen && len(plain) != meteoFrameLenExt {
			return types.Measurement{}, &RejectionError{Field: "frame_length", Value: float64(len(plain))}
		}
	} else {
		if len(plain) != headerLen+2*numValues+1 {
			return types.Measurement{}, &RejectionError{Field: "frame_length", Value: float64(len(plain))}
		}
	}

	m := types.Measurement{
		Kind:    kind,
		Battery: float64(binary.BigEndian.Uint16(plain[5:7])) / 1000.0,
	}

	payload := plain[headerLen : len(plain)-1]

	// The declared count is device-controlled; the payload must still be
	// long enough for the kind's layout before the decode below indexes it.
	if len(payload) < types.KindInfoFor(kind).PayloadBytes {
		return types.Measurement{}, &RejectionError{Field: "frame_length", Value: float64(len(plain))}
	}

	switch kind {
	case types.KindBME280:
		m.Temperature = float64(int16(binary.BigEndian.Uint16(payload[0:2]))) / 100.0
		m.Pressure = float64(binary.BigEndian.Uint16(payload[2:4])) / 10.0
		m.Humidity = float64(binary.BigEndian.Uint16(payload[4:6])) / 100.0

	case types.KindSCD40:
		m.Temperature = float64(int16(binary.BigEndian.Uint16(payload[0:2]))) / 100.0
		m.CO2 = float64(binary.BigEndian.Uint16(payload[2:4]))
		m.Humidity = float64(binary.BigEndian.Uint16(payload[4:6])) / 100.0

	case types.KindVEML7700:
		m.Lux = float64(binary.BigEndian.Uint32(payload[0:4])) / 100.0

	case types.KindMeteo:
		m.Temperature = float64(int16(binary.BigEndian.Uint16(payload[0:2]))) / 100.0
		m.Pressure = float64(binary.BigEndian.Uint16(payload[2:4])) / 10.0
		m.Humidity = float64(binary.BigEndian.Uint16(payload[4:6])) / 100.0
		m.WindSpeed = float64(binary.BigEndian.Uint16(payload[6:8])) / 10.0
		m.WindDirection = binary.BigEndian.Uint16(payload[8:10])
		m.RainAmount = float64(binary.BigEndian.Uint16(payload[10:12])) / 1000.0
		if len(plain) == meteoFrameLenExt {
			m.RainRate = float64(binary.BigEndian.Uint16(payload[12:14])) / 100.0
		}

	case types.KindDIYTemp:
		m.Temperature = float64(int16(binary.BigEndian.Uint16(payload[0:2]))) / 100.0
	}

	if err := validateRanges(&m); err != nil {
		return types.Measurement{}, err
	}

	return m, nil
}

// validateRanges rejects readings outside the physical ranges the sensors
// can produce. Only fields the kind carries are checked.
func validateRanges(m *types.Measurement) error {
	info := m.Info()

	if info.HasTemperature && (m.Temperature < -50.0 || m.Temperature > 60.0) {
		return &RejectionError{Field: "temperature", Value: m.Temperature}
	}
	if info.HasPressure && (m.Pressure < 850.0 || m.Pressure > 1100.0) {
		return &RejectionError{Field: "pressure", Value: m.Pressure}
	}
	if info.HasHumidity && m.Humidity > 100.0 {
		return &RejectionError{Field: "humidity", Value: m.Humidity}
	}
	if info.HasCO2 && m.CO2 > 10000 {
		return &RejectionError{Field: "co2", Value: m.CO2}
	}
	if info.HasWindSpeed && m.WindSpeed > 60.0 {
		return &RejectionError{Field: "wind_speed", Value: m.WindSpeed}
	}
	if info.HasWindDirection && m.WindDirection > 359 {
		return &RejectionError{Field: "wind_direction", Value: float64(m.WindDirection)}
	}
	return nil
}
