package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/types"
)

// sensorRecord is the on-disk form of one device. Correction fields are
// pointers so absent keys can fall back to identity values on load; older
// registry files predate the calibration support.
type sensorRecord struct {
	DeviceType   uint8  `json:"deviceType"`
	SerialNumber uint32 `json:"serialNumber"`
	DeviceKey    uint32 `json:"deviceKey"`
	Name         string `json:"name"`
	CustomURL    string `json:"customUrl"`
	Altitude     int    `json:"altitude"`

	DailyRainTotal *float64 `json:"dailyRainTotal,omitempty"`
	LastRainReset  *int64   `json:"lastRainReset,omitempty"`

	TemperatureCorrection   *float64 `json:"temperatureCorrection,omitempty"`
	HumidityCorrection      *float64 `json:"humidityCorrection,omitempty"`
	PressureCorrection      *float64 `json:"pressureCorrection,omitempty"`
	PPMCorrection           *float64 `json:"ppmCorrection,omitempty"`
	LuxCorrection           *float64 `json:"luxCorrection,omitempty"`
	WindSpeedCorrection     *float64 `json:"windSpeedCorrection,omitempty"`
	WindDirectionCorrection *int     `json:"windDirectionCorrection,omitempty"`
	RainAmountCorrection    *float64 `json:"rainAmountCorrection,omitempty"`
	RainRateCorrection      *float64 `json:"rainRateCorrection,omitempty"`
}

type sensorFile struct {
	Sensors []sensorRecord `json:"sensors"`
}

// Persist writes all registered devices to the registry file. The write goes
// through a temp file and rename so a crash mid-write cannot lose the
// previous registry.
func (r *Registry) Persist() error {
	r.mu.Lock()
	doc := sensorFile{Sensors: make([]sensorRecord, 0, MaxDevices)}
	for i := range r.slots {
		if r.slots[i].occupied {
			doc.Sensors = append(doc.Sensors, toRecord(&r.slots[i].dev))
		}
	}
	r.mu.Unlock()

	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshaling device registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing device registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing device registry: %w", err)
	}

	log.Infof("saved %d devices to %s", len(doc.Sensors), r.path)
	return nil
}

// Load replaces the registry contents with the persisted document. A missing
// file is not an error; the gateway starts with an empty registry.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infof("device registry %s not found, starting empty", r.path)
			return nil
		}
		return fmt.Errorf("reading device registry: %w", err)
	}

	var doc sensorFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing device registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		r.slots[i] = slot{}
	}

	n := 0
	for _, rec := range doc.Sensors {
		if n >= MaxDevices {
			log.Warnf("device registry holds more than %d entries, ignoring the rest", MaxDevices)
			break
		}
		r.slots[n] = slot{occupied: true, dev: fromRecord(&rec, Handle(n))}
		n++
	}

	log.Infof("loaded %d devices from %s", n, r.path)
	return nil
}

func toRecord(d *Device) sensorRecord {
	rec := sensorRecord{
		DeviceType:   uint8(d.Kind),
		SerialNumber: d.Serial,
		DeviceKey:    d.Key,
		Name:         d.Name,
		CustomURL:    d.CustomURL,
		Altitude:     d.Altitude,

		TemperatureCorrection:   &d.Calibration.TemperatureOffset,
		HumidityCorrection:      &d.Calibration.HumidityOffset,
		PressureCorrection:      &d.Calibration.PressureOffset,
		PPMCorrection:           &d.Calibration.CO2Offset,
		LuxCorrection:           &d.Calibration.LuxOffset,
		WindSpeedCorrection:     &d.Calibration.WindSpeedMultiplier,
		WindDirectionCorrection: &d.Calibration.WindDirectionOffset,
		RainAmountCorrection:    &d.Calibration.RainAmountMultiplier,
		RainRateCorrection:      &d.Calibration.RainRateMultiplier,
	}

	if d.Info().HasRainAmount {
		rain := d.DailyRain
		rec.DailyRainTotal = &rain
		if !d.LastRainReset.IsZero() {
			ts := d.LastRainReset.Unix()
			rec.LastRainReset = &ts
		}
	}

	return rec
}

func fromRecord(rec *sensorRecord, h Handle) Device {
	dev := Device{
		Handle:      h,
		Kind:        types.DeviceKind(rec.DeviceType),
		Serial:      rec.SerialNumber,
		Key:         rec.DeviceKey,
		Name:        rec.Name,
		CustomURL:   rec.CustomURL,
		Altitude:    rec.Altitude,
		Calibration: IdentityCalibration(),
	}

	if rec.DailyRainTotal != nil {
		dev.DailyRain = *rec.DailyRainTotal
	}
	if rec.LastRainReset != nil && *rec.LastRainReset > 0 {
		dev.LastRainReset = time.Unix(*rec.LastRainReset, 0)
	}

	c := &dev.Calibration
	if rec.TemperatureCorrection != nil {
		c.TemperatureOffset = *rec.TemperatureCorrection
	}
	if rec.HumidityCorrection != nil {
		c.HumidityOffset = *rec.HumidityCorrection
	}
	if rec.PressureCorrection != nil {
		c.PressureOffset = *rec.PressureCorrection
	}
	if rec.PPMCorrection != nil {
		c.CO2Offset = *rec.PPMCorrection
	}
	if rec.LuxCorrection != nil {
		c.LuxOffset = *rec.LuxCorrection
	}
	if rec.WindSpeedCorrection != nil {
		c.WindSpeedMultiplier = *rec.WindSpeedCorrection
	}
	if rec.WindDirectionCorrection != nil {
		c.WindDirectionOffset = *rec.WindDirectionCorrection
	}
	if rec.RainAmountCorrection != nil {
		c.RainAmountMultiplier = *rec.RainAmountCorrection
	}
	if rec.RainRateCorrection != nil {
		c.RainRateMultiplier = *rec.RainRateCorrection
	}

	return dev
}
