package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownRegister is returned for a register name the file does not hold.
var ErrUnknownRegister = errors.New("unknown register")

// DefaultRegisterCount is the number of registers in the default file,
// F0 through F10.
const DefaultRegisterCount = 6

// RegFileConfig configures the register file.
type RegFileConfig struct {
	// Count is the number of registers. They are named F0, F2, F4, ...
	Count int `json:"count"`
	// Initial holds starting values keyed by register name.
	Initial map[string]float64 `json:"initial,omitempty"`
}

// DefaultRegFileConfig returns six zeroed registers.
func DefaultRegFileConfig() RegFileConfig {
	return RegFileConfig{Count: DefaultRegisterCount}
}

// Validate checks the register count and the initial value names.
func (c RegFileConfig) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("register count must be > 0")
	}
	for name := range c.Initial {
		if _, ok := registerIndex(name, c.Count); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRegister, name)
		}
	}
	return nil
}

// Register is one entry of the register status table.
type Register struct {
	Name  string
	Value float64
	// Tag names the unit that will write this register, or NoTag.
	Tag Tag
}

// Ready returns true if no unit is going to write the register.
func (r Register) Ready() bool {
	return !r.Tag.Valid()
}

// RegFile is the architectural register file together with the register
// status table. Each register holds its last written value and the tag of
// its pending producer. The latest issue wins when two in-flight
// instructions target the same register.
type RegFile struct {
	regs []Register
}

// NewRegFile creates a register file from the config.
func NewRegFile(config RegFileConfig) (*RegFile, error) {
	if config.Count == 0 {
		config.Count = DefaultRegisterCount
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rf := &RegFile{regs: make([]Register, config.Count)}
	for i := range rf.regs {
		rf.regs[i].Name = fmt.Sprintf("F%d", i*2)
	}
	for name, v := range config.Initial {
		idx, _ := registerIndex(name, config.Count)
		rf.regs[idx].Value = v
	}

	return rf, nil
}

// registerIndex maps "F6" (any case) to its slot. Only even numbers exist.
func registerIndex(name string, count int) (int, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "F") {
		return 0, false
	}

	n, err := strconv.Atoi(name[1:])
	if err != nil || strconv.Itoa(n) != name[1:] {
		return 0, false
	}
	if n < 0 || n%2 != 0 || n/2 >= count {
		return 0, false
	}

	return n / 2, true
}

func (rf *RegFile) lookup(name string) (*Register, error) {
	idx, ok := registerIndex(name, len(rf.regs))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegister, name)
	}
	return &rf.regs[idx], nil
}

// Len returns the number of registers.
func (rf *RegFile) Len() int {
	return len(rf.regs)
}

// Has returns true if the register name exists.
func (rf *RegFile) Has(name string) bool {
	_, ok := registerIndex(name, len(rf.regs))
	return ok
}

// Value returns the current value of a register.
func (rf *RegFile) Value(name string) (float64, error) {
	reg, err := rf.lookup(name)
	if err != nil {
		return 0, err
	}
	return reg.Value, nil
}

// SetValue overwrites the value of a register. The tag is left alone.
func (rf *RegFile) SetValue(name string, v float64) error {
	reg, err := rf.lookup(name)
	if err != nil {
		return err
	}
	reg.Value = v
	return nil
}

// Tag returns the pending producer of a register.
func (rf *RegFile) Tag(name string) (Tag, error) {
	reg, err := rf.lookup(name)
	if err != nil {
		return NoTag, err
	}
	return reg.Tag, nil
}

// SetTag renames a register to the given producer.
func (rf *RegFile) SetTag(name string, tag Tag) error {
	reg, err := rf.lookup(name)
	if err != nil {
		return err
	}
	reg.Tag = tag
	return nil
}

// ClearTag marks a register as not waiting on any producer.
func (rf *RegFile) ClearTag(name string) error {
	return rf.SetTag(name, NoTag)
}

// Ready returns true if the register is not waiting on any producer.
func (rf *RegFile) Ready(name string) (bool, error) {
	reg, err := rf.lookup(name)
	if err != nil {
		return false, err
	}
	return reg.Ready(), nil
}

// Source returns the operand binding for a register: its value when ready,
// otherwise its pending tag.
func (rf *RegFile) Source(name string) (Source, error) {
	reg, err := rf.lookup(name)
	if err != nil {
		return Source{}, err
	}
	if reg.Ready() {
		return ValueSource(reg.Value), nil
	}
	return TagSource(reg.Tag), nil
}

// Broadcast delivers a result: every register waiting on tag takes the value
// and becomes ready. It returns the number of registers updated.
func (rf *RegFile) Broadcast(tag Tag, v float64) int {
	if !tag.Valid() {
		return 0
	}

	n := 0
	for i := range rf.regs {
		if rf.regs[i].Tag == tag {
			rf.regs[i].Value = v
			rf.regs[i].Tag = NoTag
			n++
		}
	}
	return n
}

// Poison releases every register waiting on tag without changing its value.
// It is used when a unit completes without a result.
func (rf *RegFile) Poison(tag Tag) int {
	if !tag.Valid() {
		return 0
	}

	n := 0
	for i := range rf.regs {
		if rf.regs[i].Tag == tag {
			rf.regs[i].Tag = NoTag
			n++
		}
	}
	return n
}

// Registers returns a copy of all registers in name order.
func (rf *RegFile) Registers() []Register {
	out := make([]Register, len(rf.regs))
	copy(out, rf.regs)
	return out
}

// Reset zeroes every value and clears every tag.
func (rf *RegFile) Reset() {
	for i := range rf.regs {
		rf.regs[i].Value = 0
		rf.regs[i].Tag = NoTag
	}
}

// ClearTags releases every register from its pending producer.
func (rf *RegFile) ClearTags() {
	for i := range rf.regs {
		rf.regs[i].Tag = NoTag
	}
}
