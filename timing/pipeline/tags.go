// Package pipeline provides the Tomasulo scheduling engine: the register
// status table, reservation stations, load/store buffers and the cycle loop
// that issues, executes and writes back instructions.
package pipeline

import "fmt"

// Tag identifies the functional unit that will produce a value. Tags are
// assigned once per unit when its pool is built. The zero Tag means the
// value is available.
type Tag uint16

// NoTag marks a register or operand that is not waiting on any unit.
const NoTag Tag = 0

// Valid returns true if the tag names a producer.
func (t Tag) Valid() bool {
	return t != NoTag
}

// Source is an operand as bound at issue time: a value when Tag is empty,
// otherwise the tag of the unit that will broadcast the value.
type Source struct {
	Value float64
	Tag   Tag
}

// ValueSource makes a ready operand.
func ValueSource(v float64) Source {
	return Source{Value: v}
}

// TagSource makes an operand that waits on a producer.
func TagSource(tag Tag) Source {
	return Source{Tag: tag}
}

// Ready returns true if the operand holds its value.
func (s Source) Ready() bool {
	return !s.Tag.Valid()
}

func (s Source) String() string {
	if s.Ready() {
		return fmt.Sprintf("%g", s.Value)
	}
	return fmt.Sprintf("tag %d", s.Tag)
}

// unitName builds the display name of the n-th unit of a pool, e.g. Add1.
func unitName(prefix string, n int) string {
	return fmt.Sprintf("%s%d", prefix, n+1)
}
