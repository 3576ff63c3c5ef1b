package cache

import (
	"github.com/sarchlab/tomasim/emu"
)

// MemoryBacking wraps emu.Memory as a BackingStore.
type MemoryBacking struct {
	memory *emu.Memory
}

// NewMemoryBacking creates a new MemoryBacking adapter.
func NewMemoryBacking(memory *emu.Memory) *MemoryBacking {
	return &MemoryBacking{memory: memory}
}

// Read fetches one cell from the backing memory.
func (m *MemoryBacking) Read(addr int) (float64, error) {
	return m.memory.Read(addr)
}

// Write stores one cell to the backing memory.
func (m *MemoryBacking) Write(addr int, v float64) error {
	return m.memory.Write(addr, v)
}
