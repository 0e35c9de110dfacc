// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
)

// recordConn records every transfer and answers reads from reply.
type recordConn struct {
	duplex conn.Duplex
	writes [][]byte
	reply  []byte
	err    error
}

func (c *recordConn) String() string      { return "record" }
func (c *recordConn) Duplex() conn.Duplex { return c.duplex }

func (c *recordConn) Tx(w, r []byte) error {
	c.writes = append(c.writes, append([]byte(nil), w...))
	if c.err != nil {
		return c.err
	}
	copy(r, c.reply)
	return nil
}

func TestConnRegistersSPIFraming(t *testing.T) {
	c := &recordConn{duplex: conn.Full, reply: []byte{0xFF, 0x71}}
	r := NewConnRegisters(c, FramingSPI)

	v, err := r.ReadRegister(0x75)
	require.NoError(t, err)
	assert.Equal(t, 0x71, v)

	require.NoError(t, r.WriteRegister(0x6B, 0x01))
	assert.Equal(t, [][]byte{{0xF5, 0x00}, {0x6B, 0x01}}, c.writes)
}

func TestConnRegistersI2CFraming(t *testing.T) {
	c := &recordConn{duplex: conn.Half, reply: []byte{0x2A}}
	r := NewConnRegisters(c, FramingI2C)

	v, err := r.ReadRegister(0x3B)
	require.NoError(t, err)
	assert.Equal(t, 0x2A, v)

	require.NoError(t, r.WriteRegister(0x1C, 0x18))
	assert.Equal(t, [][]byte{{0x3B}, {0x1C, 0x18}}, c.writes)
}

func TestConnRegistersErrors(t *testing.T) {
	errTx := errors.New("nack")
	r := NewConnRegisters(&recordConn{err: errTx}, FramingI2C)

	_, err := r.ReadRegister(0x10)
	assert.ErrorIs(t, err, errTx)
	assert.ErrorIs(t, r.WriteRegister(0x10, 1), errTx)

	_, err = r.ReadRegister(0x80)
	assert.ErrorIs(t, err, ErrRegisterRange)
	assert.ErrorIs(t, r.WriteRegister(0x10, 0x100), ErrRegisterRange)
	assert.NoError(t, r.Close())
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.WriteRegister(0x19, 0x07))
	m.Set(0x75, 0x171)

	v, err := m.ReadRegister(0x19)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 0x71, m.Get(0x75))
	assert.Equal(t, 1, m.Reads())
	assert.Equal(t, 1, m.Writes())

	errStall := errors.New("stall")
	m.FailRead(2, errStall)
	_, err = m.ReadRegister(0x00)
	require.NoError(t, err)
	_, err = m.ReadRegister(0x00)
	assert.ErrorIs(t, err, errStall)
	_, err = m.ReadRegister(0x00)
	assert.NoError(t, err, "only the selected read fails")

	var seen []int
	m.OnRead = func(reg int) { seen = append(seen, reg) }
	_, _ = m.ReadRegister(0x42)
	assert.Equal(t, []int{0x42}, seen)
}

func TestConnRegistersReadBlock(t *testing.T) {
	spiConn := &recordConn{duplex: conn.Full, reply: []byte{0xFF, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}
	buf := make([]byte, 6)
	require.NoError(t, NewConnRegisters(spiConn, FramingSPI).ReadBlock(0x3B, buf))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, buf)
	require.Len(t, spiConn.writes, 1, "one transfer for the whole block")
	assert.Equal(t, []byte{0xBB, 0, 0, 0, 0, 0, 0}, spiConn.writes[0])

	i2cConn := &recordConn{duplex: conn.Half, reply: []byte{9, 8}}
	buf = make([]byte, 2)
	require.NoError(t, NewConnRegisters(i2cConn, FramingI2C).ReadBlock(0x41, buf))
	assert.Equal(t, []byte{9, 8}, buf)
	assert.Equal(t, [][]byte{{0x41}}, i2cConn.writes)

	err := NewConnRegisters(i2cConn, FramingI2C).ReadBlock(0x7E, make([]byte, 6))
	assert.ErrorIs(t, err, ErrRegisterRange)
}

// plainRegisters hides Memory's ReadBlock.
type plainRegisters struct{ Registers }

func TestReadBlock(t *testing.T) {
	m := NewMemory()
	for i, v := range []int{0x12, 0x34, 0x56} {
		m.Set(0x43+i, v)
	}

	buf := make([]byte, 3)
	require.NoError(t, ReadBlock(m, 0x43, buf))
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, buf)
	assert.Equal(t, 1, m.Reads())

	buf = make([]byte, 3)
	require.NoError(t, ReadBlock(plainRegisters{m}, 0x43, buf))
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, buf)
	assert.Equal(t, 4, m.Reads(), "fallback reads one register at a time")

	errStall := errors.New("stall")
	m.FailRead(1, errStall)
	assert.ErrorIs(t, ReadBlock(m, 0x43, buf), errStall)
}
