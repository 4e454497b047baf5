package radio

import (
	"fmt"
	"time"

	"github.com/pajenicko/explora-gateway/internal/log"
)

// SX127x register map (the subset this gateway uses).
const (
	regFifo               = 0x00
	regOpMode             = 0x01
	regFrfMsb             = 0x06
	regFrfMid             = 0x07
	regFrfLsb             = 0x08
	regPaConfig           = 0x09
	regOcp                = 0x0B
	regLna                = 0x0C
	regFifoAddrPtr        = 0x0D
	regFifoTxBaseAddr     = 0x0E
	regFifoRxBaseAddr     = 0x0F
	regFifoRxCurrentAddr  = 0x10
	regIrqFlags           = 0x12
	regRxNbBytes          = 0x13
	regPktSnrValue        = 0x19
	regPktRssiValue       = 0x1A
	regModemConfig1       = 0x1D
	regModemConfig2       = 0x1E
	regPreambleMsb        = 0x20
	regPreambleLsb        = 0x21
	regModemConfig3       = 0x26
	regDetectionOptimize  = 0x31
	regDetectionThreshold = 0x37
	regSyncWord           = 0x39
	regVersion            = 0x42
)

const (
	modeSleep         = 0x00
	modeRxContinuous  = 0x05
	modeLongRangeMode = 0x80

	irqRxDone          = 0x40
	irqPayloadCrcError = 0x20

	chipVersion = 0x12

	// RSSI register offset for the HF port (868 MHz).
	rssiOffset = 137

	frequencyHz  = 868000000
	oscillatorHz = 32000000

	initProbeAttempts = 3
)

// SX127x is the register-level driver for the RFM95W/SX1276 family,
// configured for the expLORA uplink: 868 MHz, BW 125 kHz, SF9, CR 4/5,
// CRC on, explicit header, sync word 0x12, continuous receive.
type SX127x struct {
	bus RegisterBus
}

func NewSX127x(bus RegisterBus) *SX127x {
	return &SX127x{bus: bus}
}

// Init probes for the transceiver and applies the receive configuration.
// Probing retries a few times with the bus reset between attempts; a chip
// that never answers with the expected version is fatal.
func (r *SX127x) Init() error {
	log.Info("initializing LoRa radio...")

	if err := r.bus.Reset(); err != nil {
		return fmt.Errorf("resetting radio: %w", err)
	}

	found := false
	for attempt := 1; attempt <= initProbeAttempts; attempt++ {
		version, err := r.bus.ReadRegister(regVersion)
		if err == nil {
			log.Debugf("radio chip version: 0x%02x", version)
			if version == chipVersion {
				found = true
				break
			}
		}

		if attempt == initProbeAttempts {
			break
		}

		// Sleep, then recover the bus and the chip before the next probe.
		time.Sleep(100 * time.Millisecond)
		log.Warn("radio not answering, resetting bus and retrying")
		if err := r.bus.Reset(); err != nil {
			return fmt.Errorf("resetting radio: %w", err)
		}
	}

	if !found {
		return ErrRadioUnresponsive
	}

	if err := r.configure(); err != nil {
		return err
	}

	log.Info("LoRa radio initialized and in receive mode")
	return nil
}

// configure applies the full modem configuration and enters continuous
// receive.
func (r *SX127x) configure() error {
	writes := []struct{ reg, val uint8 }{
		{regOpMode, modeSleep},
		{regOpMode, modeSleep | modeLongRangeMode},
	}

	// 868 MHz carrier: Frf = frequency * 2^19 / Fosc.
	frf := (uint64(frequencyHz) << 19) / oscillatorHz
	writes = append(writes, []struct{ reg, val uint8 }{
		{regFrfMsb, uint8(frf >> 16)},
		{regFrfMid, uint8(frf >> 8)},
		{regFrfLsb, uint8(frf)},

		{regPaConfig, 0x8F}, // PA_BOOST, max power
		{regLna, 0x23},      // max LNA gain, boost on

		{regDetectionOptimize, 0xC5},
		{regDetectionThreshold, 0x0C},

		{regOcp, 0x2F}, // over-current protection, 150 mA

		{regFifoTxBaseAddr, 0x00},
		{regFifoRxBaseAddr, 0x00},

		{regModemConfig1, 0x72}, // BW 125 kHz, CR 4/5, explicit header
		{regModemConfig2, 0x94}, // SF9, CRC on
		{regModemConfig3, 0x04}, // LNA AGC on

		{regPreambleMsb, 0x00},
		{regPreambleLsb, 0x10},

		{regSyncWord, 0x12},

		{regOpMode, modeRxContinuous | modeLongRangeMode},
	}...)

	for _, w := range writes {
		if err := r.bus.WriteRegister(w.reg, w.val); err != nil {
			return fmt.Errorf("configuring radio register 0x%02x: %w", w.reg, err)
		}
	}
	return nil
}

// Reset power-cycles the radio line, verifies the chip answers, and
// re-applies the configuration.
func (r *SX127x) Reset() error {
	if err := r.bus.Reset(); err != nil {
		return fmt.Errorf("resetting radio: %w", err)
	}

	version, err := r.bus.ReadRegister(regVersion)
	if err != nil || version != chipVersion {
		return ErrRadioUnresponsive
	}

	if err := r.configure(); err != nil {
		return err
	}

	log.Info("LoRa radio reset successfully")
	return nil
}

// Receive checks for a completed reception and reads the frame out of the
// FIFO. Returns (nil, nil) when nothing is pending. Frames with a failed
// hardware CRC or a nonsensical length are dropped here.
func (r *SX127x) Receive() (*Frame, error) {
	irq, err := r.bus.ReadRegister(regIrqFlags)
	if err != nil {
		return nil, fmt.Errorf("reading IRQ flags: %w", err)
	}
	if irq&irqRxDone == 0 {
		return nil, nil
	}

	// RX is done one way or another: always clear the flags afterwards so a
	// bad frame cannot wedge the receiver.
	defer r.bus.WriteRegister(regIrqFlags, 0xFF)

	if irq&irqPayloadCrcError != 0 {
		log.Debug("dropping frame with failed CRC")
		return nil, nil
	}

	length, err := r.bus.ReadRegister(regRxNbBytes)
	if err != nil {
		return nil, fmt.Errorf("reading frame length: %w", err)
	}
	if length == 0 {
		log.Warnf("invalid frame length: %d", length)
		return nil, nil
	}

	current, err := r.bus.ReadRegister(regFifoRxCurrentAddr)
	if err != nil {
		return nil, fmt.Errorf("reading FIFO address: %w", err)
	}
	if err := r.bus.WriteRegister(regFifoAddrPtr, current); err != nil {
		return nil, fmt.Errorf("setting FIFO pointer: %w", err)
	}

	data := make([]byte, length)
	if err := r.bus.ReadBurst(regFifo, data); err != nil {
		return nil, fmt.Errorf("reading FIFO: %w", err)
	}

	rssi, err := r.bus.ReadRegister(regPktRssiValue)
	if err != nil {
		return nil, fmt.Errorf("reading RSSI: %w", err)
	}
	snrRaw, err := r.bus.ReadRegister(regPktSnrValue)
	if err != nil {
		return nil, fmt.Errorf("reading SNR: %w", err)
	}

	return &Frame{
		Data: data,
		RSSI: int16(rssi) - rssiOffset,
		SNR:  float64(int8(snrRaw)) / 4.0,
	}, nil
}

func (r *SX127x) Close() error {
	// Park the radio in sleep before releasing the bus.
	r.bus.WriteRegister(regOpMode, modeSleep|modeLongRangeMode)
	return r.bus.Close()
}
