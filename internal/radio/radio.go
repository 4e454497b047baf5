// Package radio drives the SX127x LoRa transceiver and surfaces raw received
// frames with their RSSI and SNR.
package radio

import "errors"

// ErrRadioUnresponsive means the transceiver's version register never read
// back correctly during init probing. Fatal at boot.
var ErrRadioUnresponsive = errors.New("radio unresponsive")

// Frame is one received LoRa payload.
type Frame struct {
	Data []byte
	RSSI int16   // dBm
	SNR  float64 // dB
}

// Driver is the radio contract consumed by the ingestion coordinator.
// Receive returns (nil, nil) when no frame is pending.
type Driver interface {
	Init() error
	Reset() error
	Receive() (*Frame, error)
	Close() error
}

// RegisterBus abstracts the register-level transport to the transceiver.
// Reset pulses the radio's hardware reset line.
type RegisterBus interface {
	ReadRegister(reg uint8) (uint8, error)
	WriteRegister(reg, value uint8) error
	ReadBurst(reg uint8, buf []byte) error
	Reset() error
	Close() error
}
