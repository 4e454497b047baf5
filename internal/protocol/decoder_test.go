package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/pajenicko/explora-gateway/internal/types"
)

// buildFrame assembles a plaintext frame with a valid checksum. Payload words
// are appended big-endian, two bytes each.
func buildFrame(kind types.DeviceKind, serial uint32, batteryMV uint16, numValues uint8, words ...uint16) []byte {
	frame := []byte{
		0x42,
		byte(kind),
		byte(serial >> 16), byte(serial >> 8), byte(serial),
		byte(batteryMV >> 8), byte(batteryMV),
		numValues,
	}
	for _, w := range words {
		frame = binary.BigEndian.AppendUint16(frame, w)
	}
	frame = append(frame, Checksum(frame))
	return frame
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// int16Bits returns the two's-complement bit pattern of v as a uint16.
func int16Bits(v int32) uint16 {
	return uint16(0xFFFF & uint32(v))
}

func TestTryDecodeBME280(t *testing.T) {
	// 21.00 °C, 1000.0 hPa, 43.20 %, 3000 mV
	plain := buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 10000, 4320)
	cipher := Encrypt(plain, 0xDEADBEEF)

	candidates := []Candidate{{Handle: 5, Serial: 0xABCDEF, Key: 0xDEADBEEF, Kind: types.KindBME280}}
	match, err := TryDecode(cipher, candidates)
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	if match.Handle != 5 || match.Serial != 0xABCDEF {
		t.Errorf("unexpected match identity: %+v", match)
	}

	m := match.Measurement
	if !almostEqual(m.Temperature, 21.00) {
		t.Errorf("temperature = %v, want 21.00", m.Temperature)
	}
	if !almostEqual(m.Pressure, 1000.0) {
		t.Errorf("pressure = %v, want 1000.0", m.Pressure)
	}
	if !almostEqual(m.Humidity, 43.20) {
		t.Errorf("humidity = %v, want 43.20", m.Humidity)
	}
	if !almostEqual(m.Battery, 3.00) {
		t.Errorf("battery = %v, want 3.00", m.Battery)
	}
}

func TestTryDecodeSCD40(t *testing.T) {
	plain := buildFrame(types.KindSCD40, 0x000123, 2850, 3, 1950, 612, 5500)
	cipher := Encrypt(plain, 0x01020304)

	match, err := TryDecode(cipher, []Candidate{{Serial: 0x000123, Key: 0x01020304, Kind: types.KindSCD40}})
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	m := match.Measurement
	if !almostEqual(m.Temperature, 19.50) || !almostEqual(m.CO2, 612) || !almostEqual(m.Humidity, 55.00) {
		t.Errorf("unexpected SCD40 measurement: %+v", m)
	}
}

func TestTryDecodeVEML7700(t *testing.T) {
	// 12345.67 lx as a 32-bit word (two payload values).
	lux := uint32(1234567)
	plain := buildFrame(types.KindVEML7700, 0x0F0F0F, 3100, 2,
		uint16(lux>>16), uint16(lux&0xFFFF))
	cipher := Encrypt(plain, 0xCAFEBABE)

	match, err := TryDecode(cipher, []Candidate{{Serial: 0x0F0F0F, Key: 0xCAFEBABE, Kind: types.KindVEML7700}})
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	if !almostEqual(match.Measurement.Lux, 12345.67) {
		t.Errorf("lux = %v, want 12345.67", match.Measurement.Lux)
	}
}

func TestTryDecodeDIYTemp(t *testing.T) {
	plain := buildFrame(types.KindDIYTemp, 0x777777, 2900, 1, int16Bits(-1250))
	cipher := Encrypt(plain, 0x11223344)

	match, err := TryDecode(cipher, []Candidate{{Serial: 0x777777, Key: 0x11223344, Kind: types.KindDIYTemp}})
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	if !almostEqual(match.Measurement.Temperature, -12.50) {
		t.Errorf("temperature = %v, want -12.50", match.Measurement.Temperature)
	}
}

func TestTryDecodeMeteoStandardAndExtended(t *testing.T) {
	// 21-byte form: six values, no rain rate.
	plain := buildFrame(types.KindMeteo, 0x424242, 3300, 6,
		1234, 9876, 6700, 52, 270, 400)
	if len(plain) != 21 {
		t.Fatalf("standard METEO frame length = %d, want 21", len(plain))
	}
	cipher := Encrypt(plain, 0xA5A5A5A5)
	cand := []Candidate{{Serial: 0x424242, Key: 0xA5A5A5A5, Kind: types.KindMeteo}}

	match, err := TryDecode(cipher, cand)
	if err != nil {
		t.Fatalf("TryDecode standard: %v", err)
	}
	m := match.Measurement
	if !almostEqual(m.WindSpeed, 5.2) || m.WindDirection != 270 || !almostEqual(m.RainAmount, 0.4) {
		t.Errorf("unexpected METEO measurement: %+v", m)
	}
	if m.RainRate != 0 {
		t.Errorf("standard frame should have no rain rate, got %v", m.RainRate)
	}

	// 23-byte form still declares num_values = 6; the extra word is the rain
	// rate and the decoder must key on length, not on the declared count.
	ext := buildFrame(types.KindMeteo, 0x424242, 3300, 6,
		1234, 9876, 6700, 52, 270, 400, 250)
	if len(ext) != 23 {
		t.Fatalf("extended METEO frame length = %d, want 23", len(ext))
	}
	match, err = TryDecode(Encrypt(ext, 0xA5A5A5A5), cand)
	if err != nil {
		t.Fatalf("TryDecode extended: %v", err)
	}
	if !almostEqual(match.Measurement.RainRate, 2.5) {
		t.Errorf("rain rate = %v, want 2.5", match.Measurement.RainRate)
	}
}

func TestTryDecodeTwentiethCandidate(t *testing.T) {
	// The frame belongs to the last of twenty registered devices; the decoder
	// must walk all candidates and match only the owner. The keys differ in
	// their top octet: two keys that share it decrypt each other's 15-byte
	// frames to a valid checksum.
	var candidates []Candidate
	for i := 0; i < 20; i++ {
		candidates = append(candidates, Candidate{
			Handle: i,
			Serial: uint32(0x100000 + i),
			Key:    uint32(i+1)<<24 | uint32(0x1000+i),
			Kind:   types.KindBME280,
		})
	}

	owner := candidates[19]
	plain := buildFrame(owner.Kind, owner.Serial, 3000, 3, 2000, 10100, 5000)
	match, err := TryDecode(Encrypt(plain, owner.Key), candidates)
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}
	if match.Handle != 19 {
		t.Errorf("matched handle %d, want 19", match.Handle)
	}
}

func TestTryDecodeUnknownDevice(t *testing.T) {
	plain := buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 10000, 4320)
	cipher := Encrypt(plain, 0xDEADBEEF)

	_, err := TryDecode(cipher, []Candidate{{Serial: 0xABCDEF, Key: 0x12345678, Kind: types.KindBME280}})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("err = %v, want ErrUnknownDevice", err)
	}

	_, err = TryDecode(cipher, nil)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("empty registry: err = %v, want ErrUnknownDevice", err)
	}
}

func TestTryDecodeSerialMismatchSkipsCandidate(t *testing.T) {
	// Same key registered under a different serial must not match even though
	// the checksum verifies.
	plain := buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 10000, 4320)
	cipher := Encrypt(plain, 0xDEADBEEF)

	_, err := TryDecode(cipher, []Candidate{{Serial: 0x111111, Key: 0xDEADBEEF, Kind: types.KindBME280}})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("err = %v, want ErrUnknownDevice", err)
	}
}

func TestTryDecodeLengthGuards(t *testing.T) {
	if _, err := TryDecode(make([]byte, 8), nil); !errors.Is(err, ErrFrameTooShort) {
		t.Errorf("short frame: err = %v, want ErrFrameTooShort", err)
	}
	if _, err := TryDecode(make([]byte, 256), nil); !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("long frame: err = %v, want ErrFrameTooLong", err)
	}
}

func TestTryDecodeRangeRejections(t *testing.T) {
	key := uint32(0xDEADBEEF)
	cand := func(kind types.DeviceKind) []Candidate {
		return []Candidate{{Serial: 0xABCDEF, Key: key, Kind: kind}}
	}

	cases := []struct {
		name  string
		plain []byte
		field string
	}{
		{"temperature low", buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, int16Bits(-5001), 10000, 4320), "temperature"},
		{"temperature high", buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 6001, 10000, 4320), "temperature"},
		{"pressure low", buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 8499, 4320), "pressure"},
		{"pressure high", buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 11001, 4320), "pressure"},
		{"humidity high", buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 10000, 10001), "humidity"},
		{"co2 high", buildFrame(types.KindSCD40, 0xABCDEF, 3000, 3, 2100, 10001, 4320), "co2"},
		{"wind speed high", buildFrame(types.KindMeteo, 0xABCDEF, 3000, 6, 2100, 10000, 4320, 601, 100, 0), "wind_speed"},
		{"wind direction high", buildFrame(types.KindMeteo, 0xABCDEF, 3000, 6, 2100, 10000, 4320, 100, 360, 0), "wind_direction"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind := types.DeviceKind(tc.plain[1])
			_, err := TryDecode(Encrypt(tc.plain, key), cand(kind))
			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("err = %v, want RejectionError", err)
			}
			if rej.Field != tc.field {
				t.Errorf("rejected field = %q, want %q", rej.Field, tc.field)
			}
		})
	}
}

func TestTryDecodeNumValuesCap(t *testing.T) {
	plain := buildFrame(types.KindBME280, 0xABCDEF, 3000, 11,
		2100, 10000, 4320, 0, 0, 0, 0, 0, 0, 0, 0)
	_, err := TryDecode(Encrypt(plain, 0xDEADBEEF),
		[]Candidate{{Serial: 0xABCDEF, Key: 0xDEADBEEF, Kind: types.KindBME280}})

	var rej *RejectionError
	if !errors.As(err, &rej) || rej.Field != "num_values" {
		t.Errorf("err = %v, want num_values rejection", err)
	}
}

func TestTryDecodeUnknownKind(t *testing.T) {
	plain := buildFrame(types.DeviceKind(9), 0xABCDEF, 3000, 3, 2100, 10000, 4320)
	_, err := TryDecode(Encrypt(plain, 0xDEADBEEF),
		[]Candidate{{Serial: 0xABCDEF, Key: 0xDEADBEEF, Kind: types.DeviceKind(9)}})

	var uk *UnknownKindError
	if !errors.As(err, &uk) {
		t.Fatalf("err = %v, want UnknownKindError", err)
	}
	if uk.Value != 9 {
		t.Errorf("unknown kind value = %d, want 9", uk.Value)
	}
}

func TestTryDecodeUnderDeclaredPayload(t *testing.T) {
	// A frame from a genuine device that declares fewer values than its kind
	// carries must be rejected, not crash the payload decode. The declared
	// count and the frame length agree here; only the kind's layout is short.
	cases := []struct {
		name  string
		plain []byte
		kind  types.DeviceKind
	}{
		{"BME280 two values", buildFrame(types.KindBME280, 0xABCDEF, 3000, 2, 2100, 10000), types.KindBME280},
		{"VEML7700 one value", buildFrame(types.KindVEML7700, 0xABCDEF, 3000, 1, 0x0012), types.KindVEML7700},
		{"SCD40 zero values", buildFrame(types.KindSCD40, 0xABCDEF, 3000, 0), types.KindSCD40},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := TryDecode(Encrypt(tc.plain, 0xDEADBEEF),
				[]Candidate{{Serial: 0xABCDEF, Key: 0xDEADBEEF, Kind: tc.kind}})
			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("err = %v, want RejectionError", err)
			}
			if rej.Field != "frame_length" {
				t.Errorf("rejected field = %q, want frame_length", rej.Field)
			}
		})
	}
}

func TestTryDecodeLengthContractMismatch(t *testing.T) {
	// Declared count of 3 but only two payload words present.
	plain := buildFrame(types.KindBME280, 0xABCDEF, 3000, 3, 2100, 10000)
	_, err := TryDecode(Encrypt(plain, 0xDEADBEEF),
		[]Candidate{{Serial: 0xABCDEF, Key: 0xDEADBEEF, Kind: types.KindBME280}})

	var rej *RejectionError
	if !errors.As(err, &rej) || rej.Field != "frame_length" {
		t.Errorf("err = %v, want frame_length rejection", err)
	}
}
