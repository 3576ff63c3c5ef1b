// Package latency provides the per-opcode timing model of the functional
// units.
//
// The latency values can be configured via TimingConfig.
package latency

import (
	"github.com/sarchlab/tomasim/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency in cycles for the given opcode.
// Loads report the cache-hit latency; use LoadLatency for the miss case.
// Stores have no modeled latency and report 0.
func (t *Table) GetLatency(op insts.Op) uint64 {
	switch op {
	case insts.OpADDD, insts.OpSUBD, insts.OpADDS, insts.OpSUBS:
		return t.config.AddSubLatency

	case insts.OpMULD, insts.OpMULS:
		return t.config.MultiplyLatency

	case insts.OpDIVD, insts.OpDIVS:
		return t.config.DivideLatency

	case insts.OpDADDI, insts.OpDSUBI:
		return t.config.IntegerLatency

	case insts.OpBEQ, insts.OpBNE:
		return t.config.BranchLatency

	case insts.OpLD:
		return t.config.LoadLatency

	case insts.OpSD:
		return 0

	default:
		return 1
	}
}

// LoadLatency returns the load buffer latency after a cache probe.
func (t *Table) LoadLatency(hit bool) uint64 {
	if hit {
		return t.config.LoadLatency
	}
	return t.config.CacheMissPenalty
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(op insts.Op) bool {
	return op == insts.OpLD || op == insts.OpSD
}

// IsBranchOp returns true if the instruction is a branch compare.
func (t *Table) IsBranchOp(op insts.Op) bool {
	return op.IsBranch()
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
