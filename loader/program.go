// Package loader reads Tomasulo program files.
//
// A program file holds one instruction per line. Text after ';' is a
// comment, and so is text after a '#' that starts the line or follows a
// space, unless the '#' opens an immediate ("#4"). A line may start with a label ("LOOP:"). Directives set the
// initial machine state:
//
//	.reg F0 1.5   sets the initial value of a register
//	.mem 4 2.0    sets the initial value of a memory cell
//	.regs 8       sets the number of registers
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/pipeline"
)

// ErrDirective is returned for a malformed or unknown directive.
var ErrDirective = errors.New("bad directive")

// Program is a parsed program file.
type Program struct {
	// Name is the file the program was read from.
	Name string
	// Instructions in program order.
	Instructions []*insts.Instruction
	// Registers holds initial register values by name.
	Registers map[string]float64
	// RegisterCount is the register count set by .regs, or 0.
	RegisterCount int
	// Memory holds initial memory values by address.
	Memory map[int]float64
	// Labels maps a label to the index of the instruction it marks.
	Labels map[string]int
}

// Load reads and parses a program file.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open program: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, path)
}

// Parse parses a program from r. Name is used in error messages.
func Parse(r io.Reader, name string) (*Program, error) {
	prog := &Program{
		Name:      name,
		Registers: make(map[string]float64),
		Memory:    make(map[int]float64),
		Labels:    make(map[string]int),
	}

	decoder := insts.NewDecoder()
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := stripComment(scanner.Text())
		line = prog.takeLabel(line)
		if line == "" {
			continue
		}

		var err error
		if strings.HasPrefix(line, ".") {
			err = prog.directive(line)
		} else {
			var inst *insts.Instruction
			inst, err = decoder.Decode(line)
			if err == nil {
				prog.Instructions = append(prog.Instructions, inst)
			}
		}

		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return prog, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	for i := 0; i < len(line); i++ {
		if line[i] == '#' && isCommentMark(line, i) {
			line = line[:i]
			break
		}
	}
	return strings.TrimSpace(line)
}

// isCommentMark reports whether the '#' at i starts a comment rather than
// an immediate such as "#4" or "#-1.5".
func isCommentMark(line string, i int) bool {
	if i > 0 && line[i-1] != ' ' && line[i-1] != '\t' {
		return false
	}
	if i+1 < len(line) && strings.IndexByte("0123456789+-.", line[i+1]) >= 0 {
		return false
	}
	return true
}

func (p *Program) takeLabel(line string) string {
	i := strings.Index(line, ":")
	if i <= 0 {
		return line
	}

	label := strings.TrimSpace(line[:i])
	if strings.ContainsAny(label, " \t,") {
		return line
	}

	p.Labels[label] = len(p.Instructions)
	return strings.TrimSpace(line[i+1:])
}

func (p *Program) directive(line string) error {
	fields := strings.Fields(line)

	switch strings.ToLower(fields[0]) {
	case ".reg":
		if len(fields) != 3 {
			return fmt.Errorf("%w: .reg expects a register and a value", ErrDirective)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("%w: invalid value %q", ErrDirective, fields[2])
		}
		p.Registers[strings.ToUpper(fields[1])] = v
	case ".mem":
		if len(fields) != 3 {
			return fmt.Errorf("%w: .mem expects an address and a value", ErrDirective)
		}
		addr, err := strconv.Atoi(fields[1])
		if err != nil || addr < 0 {
			return fmt.Errorf("%w: invalid address %q", ErrDirective, fields[1])
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("%w: invalid value %q", ErrDirective, fields[2])
		}
		p.Memory[addr] = v
	case ".regs":
		if len(fields) != 2 {
			return fmt.Errorf("%w: .regs expects a count", ErrDirective)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: invalid register count %q", ErrDirective, fields[1])
		}
		p.RegisterCount = n
	default:
		return fmt.Errorf("%w: unknown directive %q", ErrDirective, fields[0])
	}

	return nil
}

// RegFileConfig returns the register file configuration for the program,
// starting from base. Values set with .reg override base values.
func (p *Program) RegFileConfig(base pipeline.RegFileConfig) pipeline.RegFileConfig {
	config := pipeline.RegFileConfig{
		Count:   base.Count,
		Initial: make(map[string]float64, len(base.Initial)+len(p.Registers)),
	}
	if p.RegisterCount > 0 {
		config.Count = p.RegisterCount
	}

	maps.Copy(config.Initial, base.Initial)
	maps.Copy(config.Initial, p.Registers)

	return config
}

// LoadIntoMemory writes the initial memory values.
func (p *Program) LoadIntoMemory(memory *emu.Memory) error {
	return memory.Load(p.Memory)
}
