package radio

import (
	"fmt"
	"io"
	"sync"

	"github.com/pajenicko/explora-gateway/internal/log"
	serial "github.com/tarm/goserial"
)

// The radio front-end board exposes the SX127x register file over a serial
// link using a tiny request/response protocol: a four-byte request
// [opcode, register, argument, xor] answered by [status, payload..., xor].
const (
	opReadRegister  = 0x01
	opWriteRegister = 0x02
	opReadBurst     = 0x03
	opReset         = 0x04

	statusOK = 0x00
)

// SerialBus bridges SX127x register access over a serial port, the usual
// attachment for the radio front-end on gateway hosts without native SPI.
type SerialBus struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	name string
}

// OpenSerialBus opens the serial link to the radio front-end. 115200 baud is
// the front-end's fixed rate; pass 0 to use it.
func OpenSerialBus(device string, baud int) (*SerialBus, error) {
	if baud == 0 {
		baud = 115200
	}

	log.Debugf("opening radio serial port %s at %d baud", device, baud)
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("opening radio serial port %s: %w", device, err)
	}

	return &SerialBus{port: port, name: device}, nil
}

func (b *SerialBus) ReadRegister(reg uint8) (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.exchange(opReadRegister, reg, 0, 1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

func (b *SerialBus) WriteRegister(reg, value uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.exchange(opWriteRegister, reg, value, 0)
	return err
}

func (b *SerialBus) ReadBurst(reg uint8, buf []byte) error {
	if len(buf) > 255 {
		return fmt.Errorf("burst read of %d bytes exceeds protocol limit", len(buf))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.exchange(opReadBurst, reg, uint8(len(buf)), len(buf))
	if err != nil {
		return err
	}
	copy(buf, resp)
	return nil
}

// Reset asks the front-end to pulse the radio's reset line.
func (b *SerialBus) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.exchange(opReset, 0, 0, 0)
	return err
}

func (b *SerialBus) Close() error {
	return b.port.Close()
}

// exchange writes one request and reads the response payload. The caller
// must hold the bus mutex.
func (b *SerialBus) exchange(opcode, reg, arg uint8, payloadLen int) ([]byte, error) {
	req := []byte{opcode, reg, arg, opcode ^ reg ^ arg}
	if _, err := b.port.Write(req); err != nil {
		return nil, fmt.Errorf("radio bus write on %s: %w", b.name, err)
	}

	resp := make([]byte, 1+payloadLen+1)
	if _, err := io.ReadFull(b.port, resp); err != nil {
		return nil, fmt.Errorf("radio bus read on %s: %w", b.name, err)
	}

	var sum uint8
	for _, x := range resp[:len(resp)-1] {
		sum ^= x
	}
	if sum != resp[len(resp)-1] {
		return nil, fmt.Errorf("radio bus checksum error on %s", b.name)
	}
	if resp[0] != statusOK {
		return nil, fmt.Errorf("radio bus error status 0x%02x on %s", resp[0], b.name)
	}

	return resp[1 : len(resp)-1], nil
}
