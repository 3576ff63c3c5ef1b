package pipeline

import (
	"fmt"

	"github.com/sarchlab/tomasim/insts"
)

// HazardUnit resolves data hazards at issue time. RAW hazards become tag
// waits on the producer. WAW and WAR hazards disappear because the
// destination register is renamed to the issuing unit.
type HazardUnit struct {
	regFile *RegFile
}

// NewHazardUnit creates a hazard unit over a register file.
func NewHazardUnit(regFile *RegFile) *HazardUnit {
	return &HazardUnit{regFile: regFile}
}

// Bind turns an instruction operand into an issue-time source. Registers
// bind to their value when ready and to their producer tag otherwise.
// Immediates are always ready. Absent operands bind to zero.
func (h *HazardUnit) Bind(op insts.Operand) (Source, error) {
	switch op.Kind {
	case insts.OperandRegister:
		return h.regFile.Source(op.Reg)
	case insts.OperandImmediate:
		return ValueSource(op.Imm), nil
	default:
		return ValueSource(0), nil
	}
}

// CheckRegisters verifies every register the instruction names before any
// unit is allocated, so a bad name leaves no state behind.
func (h *HazardUnit) CheckRegisters(inst *insts.Instruction) error {
	ops := []insts.Operand{inst.Src1, inst.Src2}
	if !inst.Op.IsBranch() {
		ops = append(ops, inst.Dest)
	}

	for _, op := range ops {
		if op.IsRegister() && !h.regFile.Has(op.Reg) {
			return fmt.Errorf("%v: %w: %q", inst, ErrUnknownRegister, op.Reg)
		}
	}
	return nil
}

// Rename points the destination register of inst at tag. Stores and
// branches have no destination and are left alone.
func (h *HazardUnit) Rename(inst *insts.Instruction, tag Tag) error {
	dest, ok := inst.DestRegister()
	if !ok {
		return nil
	}
	return h.regFile.SetTag(dest, tag)
}

// Broadcast is one result carried on the common data bus.
type Broadcast struct {
	Cycle uint64  `json:"cycle"`
	Unit  string  `json:"unit"`
	Tag   Tag     `json:"tag"`
	Value float64 `json:"value"`
	// Poisoned broadcasts come from faulted units. Registers are released
	// without taking the value. Waiting operands take zero.
	Poisoned bool `json:"poisoned"`
	// Registers and Operands count the consumers that took the value.
	Registers int `json:"registers"`
	Operands  int `json:"operands"`
}

// CommonDataBus delivers completed results to every consumer: the register
// status table, both station pools and the store buffers. Every completion
// of a cycle is broadcast; there is no bus arbitration.
type CommonDataBus struct {
	regFile  *RegFile
	stations []*StationPool
	stores   *StoreBufferPool
}

// NewCommonDataBus connects the consumers of broadcast results.
func NewCommonDataBus(
	regFile *RegFile,
	stores *StoreBufferPool,
	stations ...*StationPool,
) *CommonDataBus {
	return &CommonDataBus{
		regFile:  regFile,
		stations: stations,
		stores:   stores,
	}
}

// Send broadcasts a result and reports how many consumers took it.
func (b *CommonDataBus) Send(unit string, tag Tag, v float64, poisoned bool) Broadcast {
	msg := Broadcast{
		Unit:     unit,
		Tag:      tag,
		Value:    v,
		Poisoned: poisoned,
	}

	if poisoned {
		msg.Registers = b.regFile.Poison(tag)
		v = 0
	} else {
		msg.Registers = b.regFile.Broadcast(tag, v)
	}

	for _, pool := range b.stations {
		msg.Operands += pool.Resolve(tag, v)
	}
	msg.Operands += b.stores.Resolve(tag, v)

	return msg
}
