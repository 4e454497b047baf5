package database

import (
	"time"

	"github.com/pajenicko/explora-gateway/internal/registry"
	"github.com/pajenicko/explora-gateway/internal/types"
)

// ArchivedReading is one calibrated sensor reading as stored in the archive.
// Every row is self-describing; absent fields store NULL rather than zero so
// a CLIMA row is distinguishable from a METEO row that read 0.
type ArchivedReading struct {
	Time       time.Time `gorm:"column:time"`
	Serial     int64     `gorm:"column:serial;index"`
	DeviceName string    `gorm:"column:devicename"`
	DeviceKind int16     `gorm:"column:devicekind"`

	Temperature   *float64 `gorm:"column:temperature"`
	Humidity      *float64 `gorm:"column:humidity"`
	Pressure      *float64 `gorm:"column:pressure"`
	CO2           *float64 `gorm:"column:co2"`
	Lux           *float64 `gorm:"column:lux"`
	WindSpeed     *float64 `gorm:"column:windspeed"`
	WindDirection *int16   `gorm:"column:winddirection"`
	RainAmount    *float64 `gorm:"column:rainamount"`
	DailyRain     *float64 `gorm:"column:dailyrain"`
	RainRate      *float64 `gorm:"column:rainrate"`

	Battery float64 `gorm:"column:battery"`
	RSSI    int16   `gorm:"column:rssi"`
}

// TableName implements the gorm table naming interface.
func (ArchivedReading) TableName() string {
	return "readings"
}

// FromDevice builds an archive row from a device's calibrated measurement.
func FromDevice(dev *registry.Device, m *types.Measurement, at time.Time) *ArchivedReading {
	row := &ArchivedReading{
		Time:       at,
		Serial:     int64(dev.Serial),
		DeviceName: dev.Name,
		DeviceKind: int16(dev.Kind),
		Battery:    m.Battery,
		RSSI:       m.RSSI,
	}

	info := m.Info()
	if info.HasTemperature {
		row.Temperature = f64ptr(m.Temperature)
	}
	if info.HasHumidity {
		row.Humidity = f64ptr(m.Humidity)
	}
	if info.HasPressure {
		row.Pressure = f64ptr(m.Pressure)
	}
	if info.HasCO2 {
		row.CO2 = f64ptr(m.CO2)
	}
	if info.HasLux {
		row.Lux = f64ptr(m.Lux)
	}
	if info.HasWindSpeed {
		row.WindSpeed = f64ptr(m.WindSpeed)
	}
	if info.HasWindDirection {
		dir := int16(m.WindDirection)
		row.WindDirection = &dir
	}
	if info.HasRainAmount {
		row.RainAmount = f64ptr(m.RainAmount)
		row.DailyRain = f64ptr(dev.DailyRain)
	}
	if info.HasRainRate {
		row.RainRate = f64ptr(m.RainRate)
	}

	return row
}

func f64ptr(v float64) *float64 {
	return &v
}
