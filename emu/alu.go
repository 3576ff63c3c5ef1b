package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/tomasim/insts"
)

// Execution conditions reported by the ALU.
var (
	// ErrDivisionByZero is non-fatal: the result is 0 and execution goes on.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrUnknownOpcode means the ALU has no semantics for the opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// ALU computes the result of arithmetic, immediate and branch-compare
// operations. Loads and stores are not ALU operations.
type ALU struct{}

// NewALU creates a new ALU.
func NewALU() *ALU {
	return &ALU{}
}

// Execute applies op to the two operand values.
//
// Division by zero returns 0 together with ErrDivisionByZero; callers should
// keep the result and treat the error as a diagnostic. BEQ and BNE yield 1
// when the comparison holds and 0 otherwise.
func (a *ALU) Execute(op insts.Op, vj, vk float64) (float64, error) {
	switch op {
	case insts.OpADDD, insts.OpADDS, insts.OpDADDI:
		return vj + vk, nil
	case insts.OpSUBD, insts.OpSUBS, insts.OpDSUBI:
		return vj - vk, nil
	case insts.OpMULD, insts.OpMULS:
		return vj * vk, nil
	case insts.OpDIVD, insts.OpDIVS:
		if vk == 0 {
			return 0, fmt.Errorf("%v %g / %g: %w", op, vj, vk, ErrDivisionByZero)
		}
		return vj / vk, nil
	case insts.OpBEQ:
		return boolToFloat(vj == vk), nil
	case insts.OpBNE:
		return boolToFloat(vj != vk), nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownOpcode, op)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
