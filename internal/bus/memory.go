// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"fmt"
	"sync"
)

// Memory is a map-backed register file. Unset registers read as zero.
// It can be told to fail a given read, which is how stalled buses are
// reproduced without hardware.
type Memory struct {
	mu     sync.Mutex
	regs   map[int]int
	reads  int
	writes int

	failOn  int // 1-based read that fails, 0 = never
	failErr error

	// OnRead, when set, runs before every read with the lock released. A
	// block read calls it once, with the first register.
	OnRead func(reg int)
}

// NewMemory returns an empty register file.
func NewMemory() *Memory {
	return &Memory{regs: make(map[int]int)}
}

// Set stores a value without counting it as a bus write.
func (m *Memory) Set(reg, value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg] = value & 0xFF
}

// Get returns a value without counting it as a bus read.
func (m *Memory) Get(reg int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[reg]
}

// FailRead makes the n-th read from now on return err.
func (m *Memory) FailRead(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = m.reads + n
	m.failErr = err
}

// Reads returns the number of bus reads served so far.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns the number of bus writes served so far.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) ReadRegister(reg int) (int, error) {
	if m.OnRead != nil {
		m.OnRead(reg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.failOn > 0 && m.reads == m.failOn {
		return 0, fmt.Errorf("memory: read 0x%02X: %w", reg, m.failErr)
	}
	return m.regs[reg], nil
}

// ReadBlock serves consecutive registers as a single read.
func (m *Memory) ReadBlock(reg int, buf []byte) error {
	if m.OnRead != nil {
		m.OnRead(reg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.failOn > 0 && m.reads == m.failOn {
		return fmt.Errorf("memory: read block 0x%02X+%d: %w", reg, len(buf), m.failErr)
	}
	for i := range buf {
		buf[i] = byte(m.regs[reg+i])
	}
	return nil
}

func (m *Memory) WriteRegister(reg, value int) error {
	if value < 0 || value > 0xFF {
		return fmt.Errorf("memory: write 0x%02X=0x%X: %w", reg, value, ErrRegisterRange)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.regs[reg] = value
	return nil
}
