package insts

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Decoding errors.
var (
	ErrEmptyLine       = errors.New("empty instruction")
	ErrUnknownMnemonic = errors.New("unknown mnemonic")
	ErrMalformed       = errors.New("malformed instruction")
)

var dotSpacing = regexp.MustCompile(`\s*\.\s*`)

// Decoder decodes assembly text into instructions.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes one line of assembly, e.g. "ADD.D F6, F8, F2".
// Whitespace around the mnemonic dot is tolerated ("L . D F6, 0").
func (d *Decoder) Decode(line string) (*Instruction, error) {
	fields := d.split(line)
	if len(fields) == 0 {
		return nil, ErrEmptyLine
	}

	// "L D F6 0" style: a one-letter head is the first half of a mnemonic.
	if len(fields[0]) == 1 && len(fields) > 2 {
		fields = append([]string{fields[0] + "." + fields[1]}, fields[2:]...)
	}

	op, ok := ParseOp(fields[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMnemonic, fields[0])
	}

	args := fields[1:]
	inst := &Instruction{Op: op}

	var err error
	switch {
	case op == OpLD || op == OpSD:
		err = d.decodeMemory(inst, args)
	case op.IsImmediate():
		err = d.decodeImmediate(inst, args)
	case op.IsBranch():
		err = d.decodeBranch(inst, args)
	default:
		err = d.decodeArith(inst, args)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(line), err)
	}

	return inst, nil
}

// DecodeAll decodes a sequence of lines, skipping blank lines.
func (d *Decoder) DecodeAll(lines []string) ([]*Instruction, error) {
	program := make([]*Instruction, 0, len(lines))
	for n, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		inst, err := d.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		program = append(program, inst)
	}
	return program, nil
}

func (d *Decoder) split(line string) []string {
	line = dotSpacing.ReplaceAllString(strings.TrimSpace(line), ".")
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func (d *Decoder) decodeMemory(inst *Instruction, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: %v expects register and address", ErrMalformed, inst.Op)
	}

	reg, err := d.register(args[0])
	if err != nil {
		return err
	}

	addr, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: invalid memory address %q", ErrMalformed, args[1])
	}

	inst.Dest = reg
	inst.Src1 = Addr(addr)
	return nil
}

func (d *Decoder) decodeArith(inst *Instruction, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: %v expects three registers", ErrMalformed, inst.Op)
	}

	ops := make([]Operand, 3)
	for i, a := range args {
		reg, err := d.register(a)
		if err != nil {
			return err
		}
		ops[i] = reg
	}

	inst.Dest, inst.Src1, inst.Src2 = ops[0], ops[1], ops[2]
	return nil
}

func (d *Decoder) decodeImmediate(inst *Instruction, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: %v expects two registers and an immediate",
			ErrMalformed, inst.Op)
	}

	dest, err := d.register(args[0])
	if err != nil {
		return err
	}
	src, err := d.register(args[1])
	if err != nil {
		return err
	}

	imm, err := strconv.ParseFloat(strings.TrimPrefix(args[2], "#"), 64)
	if err != nil {
		return fmt.Errorf("%w: invalid immediate %q", ErrMalformed, args[2])
	}

	inst.Dest, inst.Src1, inst.Src2 = dest, src, Imm(imm)
	return nil
}

func (d *Decoder) decodeBranch(inst *Instruction, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%w: %v expects two registers and a label",
			ErrMalformed, inst.Op)
	}

	src1, err := d.register(args[0])
	if err != nil {
		return err
	}
	src2, err := d.register(args[1])
	if err != nil {
		return err
	}

	inst.Src1, inst.Src2 = src1, src2
	if len(args) == 3 {
		inst.Dest = Label(args[2])
	}
	return nil
}

// register accepts any identifier that starts with a letter. Whether the
// register exists is decided by the register file at issue time.
func (d *Decoder) register(s string) (Operand, error) {
	if s == "" || !unicode.IsLetter(rune(s[0])) {
		return Operand{}, fmt.Errorf("%w: invalid register %q", ErrMalformed, s)
	}
	return Reg(s), nil
}
