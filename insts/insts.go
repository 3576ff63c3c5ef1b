// Package insts provides the instruction records consumed by the Tomasulo
// scheduler, plus a decoder for their textual assembly form.
//
// It supports:
//   - Loads and stores: L.D, S.D with a literal memory address
//   - Floating-point arithmetic: ADD, SUB, MUL, DIV in .D and .S forms
//   - Integer immediate arithmetic: DADDI, DSUBI
//   - Branch compares: BEQ, BNE
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst, err := decoder.Decode("MUL.D F0, F2, F4")
//	fmt.Printf("Op: %v, Dest: %v, Src1: %v, Src2: %v\n",
//		inst.Op, inst.Dest, inst.Src1, inst.Src2)
package insts

import (
	"fmt"
	"strconv"
	"strings"
)

// Op represents an opcode.
type Op uint16

// Opcodes.
const (
	OpUnknown Op = iota
	OpLD
	OpSD
	OpADDD
	OpSUBD
	OpMULD
	OpDIVD
	OpADDS
	OpSUBS
	OpMULS
	OpDIVS
	OpDADDI
	OpDSUBI
	OpBEQ
	OpBNE
)

var opNames = map[Op]string{
	OpLD:    "L.D",
	OpSD:    "S.D",
	OpADDD:  "ADD.D",
	OpSUBD:  "SUB.D",
	OpMULD:  "MUL.D",
	OpDIVD:  "DIV.D",
	OpADDS:  "ADD.S",
	OpSUBS:  "SUB.S",
	OpMULS:  "MUL.S",
	OpDIVS:  "DIV.S",
	OpDADDI: "DADDI",
	OpDSUBI: "DSUBI",
	OpBEQ:   "BEQ",
	OpBNE:   "BNE",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

// String returns the assembly mnemonic of the opcode.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint16(op))
}

// ParseOp looks up an opcode by mnemonic. Matching is case-insensitive.
func ParseOp(mnemonic string) (Op, bool) {
	op, ok := opsByName[strings.ToUpper(mnemonic)]
	return op, ok
}

// Class is the kind of functional unit an opcode is dispatched to.
type Class uint8

// Opcode classes.
const (
	ClassUnknown Class = iota
	ClassLoad
	ClassStore
	ClassAddSub
	ClassMulDiv
)

func (c Class) String() string {
	switch c {
	case ClassLoad:
		return "load"
	case ClassStore:
		return "store"
	case ClassAddSub:
		return "add/sub"
	case ClassMulDiv:
		return "mul/div"
	default:
		return "unknown"
	}
}

// Class returns the functional-unit class the opcode issues to. Integer
// immediate and branch compare operations share the add/sub stations.
func (op Op) Class() Class {
	switch op {
	case OpLD:
		return ClassLoad
	case OpSD:
		return ClassStore
	case OpADDD, OpSUBD, OpADDS, OpSUBS, OpDADDI, OpDSUBI, OpBEQ, OpBNE:
		return ClassAddSub
	case OpMULD, OpDIVD, OpMULS, OpDIVS:
		return ClassMulDiv
	default:
		return ClassUnknown
	}
}

// IsImmediate returns true for operations whose second source is an
// immediate value.
func (op Op) IsImmediate() bool {
	return op == OpDADDI || op == OpDSUBI
}

// IsBranch returns true for branch compare operations.
func (op Op) IsBranch() bool {
	return op == OpBEQ || op == OpBNE
}

// OperandKind tells how an operand is interpreted.
type OperandKind uint8

// Operand kinds.
const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandAddress
	OperandImmediate
	OperandLabel
)

// Operand is a register name, a literal memory address, an immediate value,
// or a branch label.
type Operand struct {
	Kind OperandKind
	Reg  string
	Addr int
	Imm  float64
}

// Reg makes a register operand.
func Reg(name string) Operand {
	return Operand{Kind: OperandRegister, Reg: strings.ToUpper(name)}
}

// Addr makes a literal memory address operand.
func Addr(addr int) Operand {
	return Operand{Kind: OperandAddress, Addr: addr}
}

// Imm makes an immediate operand.
func Imm(v float64) Operand {
	return Operand{Kind: OperandImmediate, Imm: v}
}

// Label makes a branch label operand. Labels are carried but not resolved;
// branches are not taken by the scheduler.
func Label(name string) Operand {
	return Operand{Kind: OperandLabel, Reg: name}
}

// IsRegister returns true if the operand names a register.
func (o Operand) IsRegister() bool {
	return o.Kind == OperandRegister
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister, OperandLabel:
		return o.Reg
	case OperandAddress:
		return strconv.Itoa(o.Addr)
	case OperandImmediate:
		return "#" + strconv.FormatFloat(o.Imm, 'g', -1, 64)
	default:
		return ""
	}
}

// Instruction is one entry of the instruction queue.
//
// Operand layout per opcode:
//   - L.D Fd, addr: Dest=Fd, Src1=addr
//   - S.D Fs, addr: Dest=Fs (the stored value), Src1=addr
//   - arithmetic Fd, Fj, Fk: Dest=Fd, Src1=Fj, Src2=Fk
//   - DADDI/DSUBI Fd, Fj, imm: Src2 is an immediate
//   - BEQ/BNE Fj, Fk, label: Dest is the label, never renamed
type Instruction struct {
	Op   Op
	Dest Operand
	Src1 Operand
	Src2 Operand
}

// String renders the instruction in assembly form.
func (i *Instruction) String() string {
	var b strings.Builder
	b.WriteString(i.Op.String())

	parts := make([]string, 0, 3)
	if i.Op.IsBranch() {
		parts = append(parts, i.Src1.String(), i.Src2.String(), i.Dest.String())
	} else {
		for _, o := range []Operand{i.Dest, i.Src1, i.Src2} {
			if o.Kind != OperandNone {
				parts = append(parts, o.String())
			}
		}
	}

	for n, p := range parts {
		if p == "" {
			continue
		}
		if n == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(p)
	}

	return b.String()
}

// DestRegister returns the register renamed by this instruction, if any.
// Stores and branches do not rename.
func (i *Instruction) DestRegister() (string, bool) {
	if i.Op == OpSD || i.Op.IsBranch() || !i.Dest.IsRegister() {
		return "", false
	}
	return i.Dest.Reg, true
}
