package pipeline

import (
	"fmt"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/cache"
	"github.com/sarchlab/tomasim/timing/latency"
)

// LoadBuffer holds one load from issue until its value is written back.
type LoadBuffer struct {
	Name string
	Tag  Tag

	Busy bool
	Addr int

	Executing bool
	Remaining uint64

	// Hit records the outcome of the cache probe.
	Hit bool
	// Value is captured when the cache is probed.
	Value float64
	Done  bool

	Faulted bool
	Err     error
}

// Completed returns true if the buffer holds a value for write-back.
func (lb *LoadBuffer) Completed() bool {
	return lb.Busy && lb.Done
}

func (lb *LoadBuffer) advance(c *cache.Cache, memory *emu.Memory, table *latency.Table) {
	if !lb.Busy || lb.Done {
		return
	}

	if lb.Executing {
		if lb.Remaining > 0 {
			lb.Remaining--
		}
		if lb.Remaining == 0 {
			lb.Executing = false
			lb.Done = true
		}
		return
	}

	lb.Executing = true
	lb.Hit = c.Probe(lb.Addr)
	lb.Remaining = table.LoadLatency(lb.Hit)

	var err error
	if lb.Hit {
		lb.Value, err = c.Read(lb.Addr)
	} else {
		lb.Value, err = memory.Read(lb.Addr)
		if err == nil {
			err = c.Fill(lb.Addr)
		}
	}

	if err != nil {
		lb.Executing = false
		lb.Done = true
		lb.Faulted = true
		lb.Err = fmt.Errorf("%s: %w", lb.Name, err)
	}
}

func (lb *LoadBuffer) reset() {
	*lb = LoadBuffer{Name: lb.Name, Tag: lb.Tag}
}

// LoadBufferPool is the fixed set of load buffers.
type LoadBufferPool struct {
	buffers []*LoadBuffer
}

// NewLoadBufferPool creates size buffers named Load1..LoadN whose tags start
// at firstTag.
func NewLoadBufferPool(size int, firstTag Tag) *LoadBufferPool {
	p := &LoadBufferPool{buffers: make([]*LoadBuffer, size)}
	for i := range p.buffers {
		p.buffers[i] = &LoadBuffer{
			Name: unitName("Load", i),
			Tag:  firstTag + Tag(i),
		}
	}
	return p
}

// Size returns the number of buffers.
func (p *LoadBufferPool) Size() int {
	return len(p.buffers)
}

// Busy returns the number of occupied buffers.
func (p *LoadBufferPool) Busy() int {
	n := 0
	for _, lb := range p.buffers {
		if lb.Busy {
			n++
		}
	}
	return n
}

// Buffers returns the buffers in allocation order.
func (p *LoadBufferPool) Buffers() []*LoadBuffer {
	return p.buffers
}

// Allocate claims the first free buffer for a load from addr.
func (p *LoadBufferPool) Allocate(addr int) (*LoadBuffer, error) {
	for _, lb := range p.buffers {
		if lb.Busy {
			continue
		}

		lb.reset()
		lb.Busy = true
		lb.Addr = addr
		return lb, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrNoFreeUnit, insts.ClassLoad)
}

// Advance moves every busy buffer one cycle forward. The first advance
// probes the cache. A hit reads the cache and waits the hit latency. A miss
// reads memory, fills the block and waits the miss penalty.
func (p *LoadBufferPool) Advance(c *cache.Cache, memory *emu.Memory, table *latency.Table) {
	for _, lb := range p.buffers {
		lb.advance(c, memory, table)
	}
}

// Completed returns the buffers holding a value, in pool order.
func (p *LoadBufferPool) Completed() []*LoadBuffer {
	var done []*LoadBuffer
	for _, lb := range p.buffers {
		if lb.Completed() {
			done = append(done, lb)
		}
	}
	return done
}

// Free releases a buffer.
func (p *LoadBufferPool) Free(lb *LoadBuffer) {
	lb.reset()
}

// Reset frees every buffer.
func (p *LoadBufferPool) Reset() {
	for _, lb := range p.buffers {
		lb.reset()
	}
}

// StoreBuffer holds one store until its value has been written.
type StoreBuffer struct {
	Name string
	Tag  Tag

	Busy bool
	Addr int

	// Value is valid when Q is empty.
	Value float64
	Q     Tag

	Done    bool
	Faulted bool
	Err     error
}

// Completed returns true if the store has been performed.
func (sb *StoreBuffer) Completed() bool {
	return sb.Busy && sb.Done
}

func (sb *StoreBuffer) advance(c *cache.Cache, memory *emu.Memory) {
	if !sb.Busy || sb.Done || sb.Q.Valid() {
		return
	}

	c.Write(sb.Addr, sb.Value)
	if err := memory.Write(sb.Addr, sb.Value); err != nil {
		sb.Faulted = true
		sb.Err = fmt.Errorf("%s: %w", sb.Name, err)
	}
	sb.Done = true
}

func (sb *StoreBuffer) reset() {
	*sb = StoreBuffer{Name: sb.Name, Tag: sb.Tag}
}

// StoreBufferPool is the fixed set of store buffers.
type StoreBufferPool struct {
	buffers []*StoreBuffer
}

// NewStoreBufferPool creates size buffers named Store1..StoreN whose tags
// start at firstTag.
func NewStoreBufferPool(size int, firstTag Tag) *StoreBufferPool {
	p := &StoreBufferPool{buffers: make([]*StoreBuffer, size)}
	for i := range p.buffers {
		p.buffers[i] = &StoreBuffer{
			Name: unitName("Store", i),
			Tag:  firstTag + Tag(i),
		}
	}
	return p
}

// Size returns the number of buffers.
func (p *StoreBufferPool) Size() int {
	return len(p.buffers)
}

// Busy returns the number of occupied buffers.
func (p *StoreBufferPool) Busy() int {
	n := 0
	for _, sb := range p.buffers {
		if sb.Busy {
			n++
		}
	}
	return n
}

// Buffers returns the buffers in allocation order.
func (p *StoreBufferPool) Buffers() []*StoreBuffer {
	return p.buffers
}

// Allocate claims the first free buffer for a store of value to addr.
func (p *StoreBufferPool) Allocate(addr int, value Source) (*StoreBuffer, error) {
	for _, sb := range p.buffers {
		if sb.Busy {
			continue
		}

		sb.reset()
		sb.Busy = true
		sb.Addr = addr
		sb.Value, sb.Q = value.Value, value.Tag
		return sb, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrNoFreeUnit, insts.ClassStore)
}

// Advance performs every store whose value has arrived. The cache is
// updated only if the block is resident; memory is always written.
func (p *StoreBufferPool) Advance(c *cache.Cache, memory *emu.Memory) {
	for _, sb := range p.buffers {
		sb.advance(c, memory)
	}
}

// Resolve delivers a broadcast value to every store waiting on tag.
func (p *StoreBufferPool) Resolve(tag Tag, v float64) int {
	if !tag.Valid() {
		return 0
	}

	n := 0
	for _, sb := range p.buffers {
		if sb.Busy && sb.Q == tag {
			sb.Value, sb.Q = v, NoTag
			n++
		}
	}
	return n
}

// Completed returns the stores already performed, in pool order.
func (p *StoreBufferPool) Completed() []*StoreBuffer {
	var done []*StoreBuffer
	for _, sb := range p.buffers {
		if sb.Completed() {
			done = append(done, sb)
		}
	}
	return done
}

// Free releases a buffer.
func (p *StoreBufferPool) Free(sb *StoreBuffer) {
	sb.reset()
}

// Reset frees every buffer.
func (p *StoreBufferPool) Reset() {
	for _, sb := range p.buffers {
		sb.reset()
	}
}
