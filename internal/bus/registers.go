// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus provides register-addressed access to sensor chips.
package bus

import (
	"errors"
	"fmt"
	"io"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Registers is a chip's register file as seen over some bus.
// Register width and addressing are chip-defined.
type Registers interface {
	ReadRegister(reg int) (int, error)
	WriteRegister(reg, value int) error
}

// BlockReader is implemented by register files that can read consecutive
// registers in one bus transaction, so a multi-byte sample cannot change
// between its bytes.
type BlockReader interface {
	ReadBlock(reg int, buf []byte) error
}

// ReadBlock fills buf from len(buf) consecutive registers starting at reg.
// It uses a single transaction when r supports it and falls back to one
// read per register otherwise.
func ReadBlock(r Registers, reg int, buf []byte) error {
	if br, ok := r.(BlockReader); ok {
		return br.ReadBlock(reg, buf)
	}
	for i := range buf {
		v, err := r.ReadRegister(reg + i)
		if err != nil {
			return err
		}
		buf[i] = byte(v)
	}
	return nil
}

// Framing selects how a register access is put on the wire.
type Framing int

const (
	// FramingSPI sends the address with the read bit (0x80) set and clocks
	// the value out in the same full-duplex transfer.
	FramingSPI Framing = iota
	// FramingI2C writes the address, then reads the value.
	FramingI2C
)

const spiReadBit = 0x80

// ErrRegisterRange is returned for addresses or values outside 8 bits.
var ErrRegisterRange = errors.New("bus: register address or value out of range")

// ConnRegisters implements Registers on a periph connection.
type ConnRegisters struct {
	conn    conn.Conn
	framing Framing
	closer  io.Closer
}

// NewConnRegisters wraps an already open connection.
func NewConnRegisters(c conn.Conn, f Framing) *ConnRegisters {
	return &ConnRegisters{conn: c, framing: f}
}

// OpenSPI opens an SPI device (e.g. "/dev/spidev0.0" or "SPI0.0") in mode 3.
func OpenSPI(dev string, speedHz int64) (*ConnRegisters, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("SPI open (%s): %w", dev, err)
	}
	c, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode3, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("SPI connect (%s @ %d Hz): %w", dev, speedHz, err)
	}
	return &ConnRegisters{conn: c, framing: FramingSPI, closer: port}, nil
}

// OpenI2C opens an I2C bus by name ("" for the first one) and addresses the
// chip at addr.
func OpenI2C(busName string, addr uint16) (*ConnRegisters, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("I2C open (%q): %w", busName, err)
	}
	d := &i2c.Dev{Addr: addr, Bus: b}
	return &ConnRegisters{conn: d, framing: FramingI2C, closer: b}, nil
}

func (r *ConnRegisters) String() string {
	return r.conn.String()
}

// Close releases the underlying port, if this value opened it.
func (r *ConnRegisters) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadRegister reads one 8-bit register.
func (r *ConnRegisters) ReadRegister(reg int) (int, error) {
	if reg < 0 || reg > 0x7F {
		return 0, fmt.Errorf("read 0x%X: %w", reg, ErrRegisterRange)
	}
	switch r.framing {
	case FramingSPI:
		w := []byte{byte(reg) | spiReadBit, 0}
		rb := make([]byte, len(w))
		if err := r.conn.Tx(w, rb); err != nil {
			return 0, fmt.Errorf("%s: read 0x%02X: %w", r.conn, reg, err)
		}
		return int(rb[1]), nil
	default:
		rb := make([]byte, 1)
		if err := r.conn.Tx([]byte{byte(reg)}, rb); err != nil {
			return 0, fmt.Errorf("%s: read 0x%02X: %w", r.conn, reg, err)
		}
		return int(rb[0]), nil
	}
}

// ReadBlock reads len(buf) registers starting at reg in one transfer. The
// chip auto-increments the address.
func (r *ConnRegisters) ReadBlock(reg int, buf []byte) error {
	if reg < 0 || reg+len(buf)-1 > 0x7F {
		return fmt.Errorf("read block 0x%X+%d: %w", reg, len(buf), ErrRegisterRange)
	}
	switch r.framing {
	case FramingSPI:
		w := make([]byte, len(buf)+1)
		w[0] = byte(reg) | spiReadBit
		rb := make([]byte, len(w))
		if err := r.conn.Tx(w, rb); err != nil {
			return fmt.Errorf("%s: read block 0x%02X+%d: %w", r.conn, reg, len(buf), err)
		}
		copy(buf, rb[1:])
	default:
		if err := r.conn.Tx([]byte{byte(reg)}, buf); err != nil {
			return fmt.Errorf("%s: read block 0x%02X+%d: %w", r.conn, reg, len(buf), err)
		}
	}
	return nil
}

// WriteRegister writes one 8-bit register.
func (r *ConnRegisters) WriteRegister(reg, value int) error {
	if reg < 0 || reg > 0x7F || value < 0 || value > 0xFF {
		return fmt.Errorf("write 0x%X=0x%X: %w", reg, value, ErrRegisterRange)
	}
	w := []byte{byte(reg), byte(value)}
	var rb []byte
	if r.framing == FramingSPI {
		rb = make([]byte, len(w))
	}
	if err := r.conn.Tx(w, rb); err != nil {
		return fmt.Errorf("%s: write 0x%02X: %w", r.conn, reg, err)
	}
	return nil
}
