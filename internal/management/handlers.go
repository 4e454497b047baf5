package management

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pajenicko/explora-gateway/internal/registry"
	"github.com/pajenicko/explora-gateway/internal/types"
)

// Handlers contains all HTTP handlers for the management API
type Handlers struct {
	controller *Controller
}

// NewHandlers creates a new handlers instance
func NewHandlers(controller *Controller) *Handlers {
	return &Handlers{controller: controller}
}

// deviceView is the JSON rendering of one device, latest reading included.
type deviceView struct {
	DeviceType   uint8  `json:"deviceType"`
	TypeName     string `json:"typeName"`
	SerialNumber string `json:"serialNumber"` // lowercase hex
	Name         string `json:"name"`
	CustomURL    string `json:"customUrl"`
	Altitude     int    `json:"altitude"`

	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	PPM           *float64 `json:"ppm,omitempty"`
	Lux           *float64 `json:"lux,omitempty"`
	WindSpeed     *float64 `json:"windSpeed,omitempty"`
	WindDirection *uint16  `json:"windDirection,omitempty"`
	RainAmount    *float64 `json:"rainAmount,omitempty"`
	DailyRain     *float64 `json:"dailyRainTotal,omitempty"`
	RainRate      *float64 `json:"rainRate,omitempty"`

	BatteryVoltage *float64 `json:"batteryVoltage,omitempty"`
	RSSI           *int16   `json:"rssi,omitempty"`
	LastSeen       int64    `json:"lastSeen"` // seconds since last packet, -1 = never
}

// devicePayload is the request body for create/update operations. Pointer
// fields are optional on update.
type devicePayload struct {
	DeviceType   uint8  `json:"deviceType"`
	SerialNumber uint32 `json:"serialNumber"`
	DeviceKey    uint32 `json:"deviceKey"`
	Name         string `json:"name"`
	CustomURL    string `json:"customUrl"`
	Altitude     int    `json:"altitude"`

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

// GetStatus returns uptime, device count, and frame counters.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":        "running",
		"uptimeSeconds": int64(time.Since(h.controller.started).Seconds()),
		"deviceCount":   h.controller.registry.Count(),
		"frames":        h.controller.control.Stats(),
	}
	writeJSON(w, http.StatusOK, status)
}

// GetDevices returns every registered device with its latest reading.
func (h *Handlers) GetDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.controller.registry.SnapshotActive()
	views := make([]deviceView, 0, len(devices))
	for i := range devices {
		views = append(views, renderDevice(&devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": views})
}

// GetDevice returns a single device by serial.
func (h *Handlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}
	dev, found := h.controller.registry.FindBySerial(serial)
	if !found {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, renderDevice(&dev))
}

// CreateDevice registers a device (or overwrites one with the same serial).
func (h *Handlers) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var payload devicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !types.KnownKind(types.DeviceKind(payload.DeviceType)) {
		writeError(w, http.StatusBadRequest, "unknown device type")
		return
	}
	if payload.SerialNumber > 0xFFFFFF {
		writeError(w, http.StatusBadRequest, "serial number exceeds 24 bits")
		return
	}

	reg := h.controller.registry
	handle, err := reg.InsertOrUpdate(types.DeviceKind(payload.DeviceType),
		payload.SerialNumber, payload.DeviceKey, payload.Name)
	if err != nil {
		if errors.Is(err, registry.ErrRegistryFull) {
			writeError(w, http.StatusConflict, "device registry full")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Apply the optional config fields in the same request.
	if payload.CustomURL != "" || payload.Altitude != 0 || hasCorrections(&payload) {
		if err := reg.UpdateConfig(handle, toDeviceConfig(&payload)); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	h.controller.control.NotifyDeviceUpdated(handle)

	dev, _ := reg.Get(handle)
	writeJSON(w, http.StatusCreated, renderDevice(&dev))
}

// UpdateDevice atomically replaces a device's configuration.
func (h *Handlers) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}

	reg := h.controller.registry
	dev, found := reg.FindBySerial(serial)
	if !found {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	var payload devicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !types.KnownKind(types.DeviceKind(payload.DeviceType)) {
		writeError(w, http.StatusBadRequest, "unknown device type")
		return
	}

	if err := reg.UpdateConfig(dev.Handle, toDeviceConfig(&payload)); err != nil {
		if errors.Is(err, registry.ErrSerialCollision) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.controller.control.NotifyDeviceUpdated(dev.Handle)

	updated, _ := reg.Get(dev.Handle)
	writeJSON(w, http.StatusOK, renderDevice(&updated))
}

// DeleteDevice retracts the device's MQTT discovery and frees its slot.
func (h *Handlers) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}

	reg := h.controller.registry
	dev, found := reg.FindBySerial(serial)
	if !found {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	// Retraction must precede the slot being freed.
	h.controller.control.NotifyDeviceDeleting(dev.Serial)

	if err := reg.Delete(dev.Handle); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.controller.control.NotifyDeviceDeleted()

	w.WriteHeader(http.StatusNoContent)
}

func renderDevice(dev *registry.Device) deviceView {
	view := deviceView{
		DeviceType:   uint8(dev.Kind),
		TypeName:     dev.Kind.String(),
		SerialNumber: strconv.FormatUint(uint64(dev.Serial), 16),
		Name:         dev.Name,
		CustomURL:    dev.CustomURL,
		Altitude:     dev.Altitude,
		LastSeen:     -1,
	}

	if !dev.LastSeen.IsZero() {
		view.LastSeen = int64(time.Since(dev.LastSeen).Seconds())
	}

	m := dev.LastReading
	if m == nil {
		return view
	}

	info := dev.Info()
	if info.HasTemperature {
		view.Temperature = &m.Temperature
	}
	if info.HasHumidity {
		view.Humidity = &m.Humidity
	}
	if info.HasPressure {
		view.Pressure = &m.Pressure
	}
	if info.HasCO2 {
		view.PPM = &m.CO2
	}
	if info.HasLux {
		view.Lux = &m.Lux
	}
	if info.HasWindSpeed {
		view.WindSpeed = &m.WindSpeed
	}
	if info.HasWindDirection {
		view.WindDirection = &m.WindDirection
	}
	if info.HasRainAmount {
		view.RainAmount = &m.RainAmount
		view.DailyRain = &dev.DailyRain
	}
	if info.HasRainRate {
		view.RainRate = &m.RainRate
	}
	view.BatteryVoltage = &m.Battery
	view.RSSI = &m.RSSI

	return view
}

func toDeviceConfig(p *devicePayload) registry.DeviceConfig {
	cal := registry.IdentityCalibration()
	if p.TemperatureCorrection != nil {
		cal.TemperatureOffset = *p.TemperatureCorrection
	}
	if p.HumidityCorrection != nil {
		cal.HumidityOffset = *p.HumidityCorrection
	}
	if p.PressureCorrection != nil {
		cal.PressureOffset = *p.PressureCorrection
	}
	if p.PPMCorrection != nil {
		cal.CO2Offset = *p.PPMCorrection
	}
	if p.LuxCorrection != nil {
		cal.LuxOffset = *p.LuxCorrection
	}
	if p.WindSpeedCorrection != nil {
		cal.WindSpeedMultiplier = *p.WindSpeedCorrection
	}
	if p.WindDirectionCorrection != nil {
		cal.WindDirectionOffset = *p.WindDirectionCorrection
	}
	if p.RainAmountCorrection != nil {
		cal.RainAmountMultiplier = *p.RainAmountCorrection
	}
	if p.RainRateCorrection != nil {
		cal.RainRateMultiplier = *p.RainRateCorrection
	}

	return registry.DeviceConfig{
		Name:        p.Name,
		Kind:        types.DeviceKind(p.DeviceType),
		Serial:      p.SerialNumber,
		Key:         p.DeviceKey,
		CustomURL:   p.CustomURL,
		Altitude:    p.Altitude,
		Calibration: cal,
	}
}

func hasCorrections(p *devicePayload) bool {
	return p.TemperatureCorrection != nil || p.HumidityCorrection != nil ||
		p.PressureCorrection != nil || p.PPMCorrection != nil ||
		p.LuxCorrection != nil || p.WindSpeedCorrection != nil ||
		p.WindDirectionCorrection != nil || p.RainAmountCorrection != nil ||
		p.RainRateCorrection != nil
}

func parseSerial(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := mux.Vars(r)["serial"]
	serial, err := strconv.ParseUint(raw, 16, 32)
	if err != nil || serial > 0xFFFFFF {
		writeError(w, http.StatusBadRequest, "invalid serial number")
		return 0, false
	}
	return uint32(serial), true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
