package pipeline

import (
	"errors"
	"fmt"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/latency"
)

// ErrNoFreeUnit is returned when every unit of a pool is busy.
var ErrNoFreeUnit = errors.New("no free unit")

// ReservationStation holds one arithmetic instruction from issue until its
// result is written back.
type ReservationStation struct {
	Name string
	Tag  Tag

	Busy bool
	Op   insts.Op

	// Vj and Vk are operand values, valid when Qj and Qk are empty.
	Vj, Vk float64
	Qj, Qk Tag

	Executing bool
	Remaining uint64

	// Done is set once the result is computed. The station stays busy until
	// write-back frees it.
	Done   bool
	Result float64

	// Faulted means the station completed without a result.
	Faulted bool
	// Err records the condition raised while computing, if any. A division
	// by zero sets Err but not Faulted.
	Err error
}

// Ready returns true if both operands have arrived.
func (rs *ReservationStation) Ready() bool {
	return rs.Busy && !rs.Qj.Valid() && !rs.Qk.Valid()
}

// Completed returns true if the station holds a result for write-back.
func (rs *ReservationStation) Completed() bool {
	return rs.Busy && rs.Done
}

func (rs *ReservationStation) advance(table *latency.Table, alu *emu.ALU) {
	if !rs.Ready() || rs.Done {
		return
	}

	if !rs.Executing {
		rs.Executing = true
		rs.Remaining = table.GetLatency(rs.Op)
	}

	if rs.Remaining > 0 {
		rs.Remaining--
		return
	}

	rs.Executing = false
	rs.Done = true

	result, err := alu.Execute(rs.Op, rs.Vj, rs.Vk)
	rs.Result = result
	rs.Err = err
	if errors.Is(err, emu.ErrUnknownOpcode) {
		rs.Faulted = true
	}
}

func (rs *ReservationStation) resolve(tag Tag, v float64) bool {
	hit := false
	if rs.Qj == tag {
		rs.Vj, rs.Qj = v, NoTag
		hit = true
	}
	if rs.Qk == tag {
		rs.Vk, rs.Qk = v, NoTag
		hit = true
	}
	return hit
}

func (rs *ReservationStation) reset() {
	*rs = ReservationStation{Name: rs.Name, Tag: rs.Tag}
}

// StationPool is a fixed set of reservation stations serving one class of
// arithmetic operations.
type StationPool struct {
	class    insts.Class
	stations []*ReservationStation
}

// NewStationPool creates size stations named prefix1..prefixN whose tags
// start at firstTag.
func NewStationPool(
	class insts.Class,
	prefix string,
	size int,
	firstTag Tag,
) *StationPool {
	p := &StationPool{
		class:    class,
		stations: make([]*ReservationStation, size),
	}
	for i := range p.stations {
		p.stations[i] = &ReservationStation{
			Name: unitName(prefix, i),
			Tag:  firstTag + Tag(i),
		}
	}
	return p
}

// Class returns the operation class the pool serves.
func (p *StationPool) Class() insts.Class {
	return p.class
}

// Size returns the number of stations.
func (p *StationPool) Size() int {
	return len(p.stations)
}

// Busy returns the number of occupied stations.
func (p *StationPool) Busy() int {
	n := 0
	for _, rs := range p.stations {
		if rs.Busy {
			n++
		}
	}
	return n
}

// Stations returns the stations in allocation order.
func (p *StationPool) Stations() []*ReservationStation {
	return p.stations
}

// Allocate claims the first free station for op with operands j and k.
func (p *StationPool) Allocate(op insts.Op, j, k Source) (*ReservationStation, error) {
	for _, rs := range p.stations {
		if rs.Busy {
			continue
		}

		rs.reset()
		rs.Busy = true
		rs.Op = op
		rs.Vj, rs.Qj = j.Value, j.Tag
		rs.Vk, rs.Qk = k.Value, k.Tag
		return rs, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrNoFreeUnit, p.class)
}

// Advance moves every ready station one cycle forward: a station starts
// counting down its latency once both operands are present, and computes
// its result on the cycle after the countdown reaches zero.
func (p *StationPool) Advance(table *latency.Table, alu *emu.ALU) {
	for _, rs := range p.stations {
		rs.advance(table, alu)
	}
}

// Resolve delivers a broadcast value to every operand waiting on tag. It
// returns the number of stations that took the value.
func (p *StationPool) Resolve(tag Tag, v float64) int {
	if !tag.Valid() {
		return 0
	}

	n := 0
	for _, rs := range p.stations {
		if rs.Busy && rs.resolve(tag, v) {
			n++
		}
	}
	return n
}

// Completed returns the stations holding a result, in pool order.
func (p *StationPool) Completed() []*ReservationStation {
	var done []*ReservationStation
	for _, rs := range p.stations {
		if rs.Completed() {
			done = append(done, rs)
		}
	}
	return done
}

// Free releases a station.
func (p *StationPool) Free(rs *ReservationStation) {
	rs.reset()
}

// Reset frees every station.
func (p *StationPool) Reset() {
	for _, rs := range p.stations {
		rs.reset()
	}
}
