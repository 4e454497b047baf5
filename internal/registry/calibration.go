package registry

import (
	"math"

	"github.com/pajenicko/explora-gateway/internal/types"
)

// Barometric constants for the relative-to-absolute pressure conversion.
const (
	gravity     = 9.80665   // m/s²
	molarMass   = 0.0289644 // kg/mol
	gasConstant = 8.3144598 // J/(mol·K)
	lapseRate   = 0.0065    // K/m
)

// Calibration holds the per-field corrections applied to every decoded
// measurement. Additive fields default to 0, multiplicative fields to 1.
type Calibration struct {
	TemperatureOffset    float64
	HumidityOffset       float64
	PressureOffset       float64
	CO2Offset            float64
	LuxOffset            float64
	WindSpeedMultiplier  float64
	WindDirectionOffset  int
	RainAmountMultiplier float64
	RainRateMultiplier   float64
}

// IdentityCalibration returns a calibration that leaves readings unchanged.
func IdentityCalibration() Calibration {
	return Calibration{
		WindSpeedMultiplier:  1,
		RainAmountMultiplier: 1,
		RainRateMultiplier:   1,
	}
}

// apply corrects a raw measurement in place. Only fields the kind carries are
// touched. Pressure is additionally converted from relative to absolute when
// the device sits above sea level.
func (c *Calibration) apply(m *types.Measurement, altitude int) {
	info := m.Info()

	if info.HasTemperature {
		m.Temperature += c.TemperatureOffset
	}
	if info.HasHumidity {
		m.Humidity += c.HumidityOffset
	}
	if info.HasPressure {
		m.Pressure += c.PressureOffset
		if altitude > 0 {
			m.Pressure = relativeToAbsolutePressure(m.Pressure, altitude, m.Temperature)
		}
	}
	if info.HasCO2 {
		m.CO2 += c.CO2Offset
	}
	if info.HasLux {
		m.Lux += c.LuxOffset
	}
	if info.HasWindSpeed {
		m.WindSpeed *= c.WindSpeedMultiplier
	}
	if info.HasWindDirection {
		dir := (int(m.WindDirection) + c.WindDirectionOffset) % 360
		if dir < 0 {
			dir += 360
		}
		m.WindDirection = uint16(dir)
	}
	if info.HasRainAmount {
		m.RainAmount *= c.RainAmountMultiplier
	}
	if info.HasRainRate {
		m.RainRate *= c.RainRateMultiplier
	}
}

// relativeToAbsolutePressure converts station pressure to the sea-level
// equivalent using the barometric formula.
func relativeToAbsolutePressure(pRelHPa float64, altitudeM int, tempC float64) float64 {
	if altitudeM == 0 {
		return pRelHPa
	}
	t := tempC + 273.15
	exponent := (gravity * molarMass) / (gasConstant * lapseRate)
	return pRelHPa / math.Pow(1-(lapseRate*float64(altitudeM))/t, exponent)
}
