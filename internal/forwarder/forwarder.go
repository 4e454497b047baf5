// Package forwarder implements the per-device HTTP GET callback: a URL
// template with placeholders expanded from the device's latest calibrated
// reading.
package forwarder

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/registry"
)

const (
	requestTimeout = 5 * time.Second

	// Only this much of the response body is logged.
	loggedBodyBytes = 100
)

// Forwarder performs the fire-and-log HTTP GET fan-out. Failures never block
// ingestion; the caller just logs them.
type Forwarder struct {
	client *http.Client
}

// New creates a forwarder. TLS certificate verification is disabled unless
// verifyTLS is set; most callback targets on sensor LANs run self-signed.
func New(verifyTLS bool) *Forwarder {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !verifyTLS},
	}
	return &Forwarder{
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
	}
}

// Forward expands the device's URL template and performs the GET. A device
// without a template is a no-op. Success is any 2xx status.
func (f *Forwarder) Forward(dev *registry.Device) error {
	if dev.CustomURL == "" {
		return nil
	}
	if dev.LastReading == nil {
		return nil
	}

	url := ExpandTemplate(dev)
	log.Debugf("forwarding data for device %s to %s", dev.Name, url)

	resp, err := f.client.Get(url)
	if err != nil {
		return fmt.Errorf("http forward failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, loggedBodyBytes))
	io.Copy(io.Discard, resp.Body)
	log.Debugf("http forward response %d: %s", resp.StatusCode, body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http forward failed: status %d", resp.StatusCode)
	}
	return nil
}

// ExpandTemplate substitutes the reading's values into the device's URL
// template. A token is expanded only when the device kind carries the field;
// an unexpanded token stays verbatim, which makes a mis-configured template
// visible in the target's access logs.
func ExpandTemplate(dev *registry.Device) string {
	url := dev.CustomURL
	m := dev.LastReading
	info := dev.Info()

	if info.HasTemperature {
		url = strings.ReplaceAll(url, "*TEMP*", strconv.FormatFloat(m.Temperature, 'f', 2, 64))
	}
	if info.HasHumidity {
		url = strings.ReplaceAll(url, "*HUM*", strconv.FormatFloat(m.Humidity, 'f', 2, 64))
	}
	if info.HasPressure {
		url = strings.ReplaceAll(url, "*PRESS*", strconv.FormatFloat(m.Pressure, 'f', 2, 64))
	}
	if info.HasCO2 {
		url = strings.ReplaceAll(url, "*PPM*", strconv.FormatFloat(m.CO2, 'f', 0, 64))
	}
	if info.HasLux {
		url = strings.ReplaceAll(url, "*LUX*", strconv.FormatFloat(m.Lux, 'f', 1, 64))
	}
	if info.HasWindSpeed {
		url = strings.ReplaceAll(url, "*WIND_SPEED*", strconv.FormatFloat(m.WindSpeed, 'f', 1, 64))
	}
	if info.HasWindDirection {
		url = strings.ReplaceAll(url, "*WIND_DIR*", strconv.Itoa(int(m.WindDirection)))
	}
	if info.HasRainAmount {
		url = strings.ReplaceAll(url, "*RAIN*", strconv.FormatFloat(m.RainAmount, 'f', 1, 64))
		url = strings.ReplaceAll(url, "*DAILY_RAIN*", strconv.FormatFloat(dev.DailyRain, 'f', 1, 64))
	}
	if info.HasRainRate {
		url = strings.ReplaceAll(url, "*RAIN_RATE*", strconv.FormatFloat(m.RainRate, 'f', 1, 64))
	}

	url = strings.ReplaceAll(url, "*BAT*", strconv.FormatFloat(m.Battery, 'f', 2, 64))
	url = strings.ReplaceAll(url, "*RSSI*", strconv.Itoa(int(m.RSSI)))
	url = strings.ReplaceAll(url, "*SN*", strconv.FormatUint(uint64(dev.Serial), 16))
	url = strings.ReplaceAll(url, "*TYPE*", strconv.Itoa(int(dev.Kind)))

	return url
}
