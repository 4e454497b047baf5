package types

// DeviceKind is the wire-level enumerator identifying which payload layout
// and which measurement fields a sensor carries.
type DeviceKind uint8

const (
	KindUnknown  DeviceKind = 0
	KindBME280   DeviceKind = 1
	KindSCD40    DeviceKind = 2
	KindMeteo    DeviceKind = 3
	KindVEML7700 DeviceKind = 4
	KindDIYTemp  DeviceKind = 0x51
)

// KindInfo describes the capabilities of one sensor kind. PayloadBytes is the
// minimum payload length in bytes, excluding the 8-byte header and the
// trailing checksum; the extended METEO form adds a 2-byte rain-rate word.
type KindInfo struct {
	Kind             DeviceKind
	Name             string
	PayloadBytes     int
	HasTemperature   bool
	HasHumidity      bool
	HasPressure      bool
	HasCO2           bool
	HasLux           bool
	HasWindSpeed     bool
	HasWindDirection bool
	HasRainAmount    bool
	HasRainRate      bool
}

// kindTable defines every supported sensor kind. Adding a new kind means
// adding a row here and a decode case in the protocol package.
var kindTable = []KindInfo{
	{Kind: KindBME280, Name: "CLIMA", PayloadBytes: 6,
		HasTemperature: true, HasHumidity: true, HasPressure: true},
	{Kind: KindSCD40, Name: "CARBON", PayloadBytes: 6,
		HasTemperature: true, HasHumidity: true, HasCO2: true},
	{Kind: KindMeteo, Name: "METEO", PayloadBytes: 12,
		HasTemperature: true, HasHumidity: true, HasPressure: true,
		HasWindSpeed: true, HasWindDirection: true, HasRainAmount: true, HasRainRate: true},
	{Kind: KindVEML7700, Name: "VEML7700", PayloadBytes: 4,
		HasLux: true},
	{Kind: KindDIYTemp, Name: "DIY TEMP", PayloadBytes: 2,
		HasTemperature: true},
}

var unknownKind = KindInfo{Kind: KindUnknown, Name: "Unknown"}

// KindInfoFor returns the capability row for a kind, or the Unknown row when
// the kind is not supported.
func KindInfoFor(kind DeviceKind) KindInfo {
	for _, info := range kindTable {
		if info.Kind == kind {
			return info
		}
	}
	return unknownKind
}

// KnownKind reports whether the kind has a capability row.
func KnownKind(kind DeviceKind) bool {
	return KindInfoFor(kind).Kind != KindUnknown
}

func (k DeviceKind) String() string {
	return KindInfoFor(k).Name
}
