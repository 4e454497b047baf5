package gateway

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pajenicko/explora-gateway/internal/registry"
)

// Stats counts frame dispositions since boot. Read by the admin surface.
type Stats struct {
	received atomic.Uint64
	matched  atomic.Uint64
	unknown  atomic.Uint64
	rejected atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Received uint64 `json:"received"`
	Matched  uint64 `json:"matched"`
	Unknown  uint64 `json:"unknown"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns the current counter values.
func (c *Coordinator) Stats() StatsSnapshot {
	return StatsSnapshot{
		Received: c.stats.received.Load(),
		Matched:  c.stats.matched.Load(),
		Unknown:  c.stats.unknown.Load(),
		Rejected: c.stats.rejected.Load(),
	}
}

// describeReading renders a device's stored reading for the info log, field
// by field in the kind's natural order.
func describeReading(dev *registry.Device) string {
	m := dev.LastReading
	if m == nil {
		return "-"
	}
	info := dev.Info()

	var parts []string
	if info.HasTemperature {
		parts = append(parts, fmt.Sprintf("temp %.2f °C", m.Temperature))
	}
	if info.HasHumidity {
		parts = append(parts, fmt.Sprintf("hum %.2f %%", m.Humidity))
	}
	if info.HasPressure {
		parts = append(parts, fmt.Sprintf("press %.2f hPa", m.Pressure))
	}
	if info.HasCO2 {
		parts = append(parts, fmt.Sprintf("CO2 %.0f ppm", m.CO2))
	}
	if info.HasLux {
		parts = append(parts, fmt.Sprintf("light %.1f lux", m.Lux))
	}
	if info.HasWindSpeed {
		parts = append(parts, fmt.Sprintf("wind %.1f m/s", m.WindSpeed))
	}
	if info.HasWindDirection {
		parts = append(parts, fmt.Sprintf("dir %d°", m.WindDirection))
	}
	if info.HasRainAmount {
		parts = append(parts, fmt.Sprintf("rain %.1f mm (day %.1f mm)", m.RainAmount, dev.DailyRain))
	}
	if info.HasRainRate {
		parts = append(parts, fmt.Sprintf("rate %.1f mm/h", m.RainRate))
	}
	parts = append(parts, fmt.Sprintf("batt %.2f V", m.Battery))
	parts = append(parts, fmt.Sprintf("RSSI %d dBm", m.RSSI))

	return strings.Join(parts, ", ")
}
