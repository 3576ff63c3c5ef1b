// Package emu provides the functional side of the simulator: the linear
// memory the cache sits in front of, and the ALU that gives each opcode its
// meaning.
package emu

import (
	"errors"
	"fmt"
)

// DefaultMemorySize is the number of cells in a memory created with a
// non-positive size.
const DefaultMemorySize = 1024

// ErrInvalidAddress is returned for accesses outside the memory.
var ErrInvalidAddress = errors.New("invalid memory address")

// Memory is a fixed-size array of numeric cells addressed by offset.
// It is the ground truth when nothing is cached.
type Memory struct {
	cells []float64
}

// NewMemory creates a zeroed memory with the given number of cells.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{cells: make([]float64, size)}
}

// Size returns the number of cells.
func (m *Memory) Size() int {
	return len(m.cells)
}

// Valid reports whether addr is inside the memory.
func (m *Memory) Valid(addr int) bool {
	return addr >= 0 && addr < len(m.cells)
}

// Read returns the cell at addr.
func (m *Memory) Read(addr int) (float64, error) {
	if !m.Valid(addr) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAddress, addr)
	}
	return m.cells[addr], nil
}

// Write stores v at addr. Nothing is written when addr is out of range.
func (m *Memory) Write(addr int, v float64) error {
	if !m.Valid(addr) {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, addr)
	}
	m.cells[addr] = v
	return nil
}

// Load writes a set of address/value pairs. It validates every address
// before writing any of them.
func (m *Memory) Load(values map[int]float64) error {
	for addr := range values {
		if !m.Valid(addr) {
			return fmt.Errorf("%w: %d", ErrInvalidAddress, addr)
		}
	}
	for addr, v := range values {
		m.cells[addr] = v
	}
	return nil
}

// Reset zeroes every cell.
func (m *Memory) Reset() {
	clear(m.cells)
}
