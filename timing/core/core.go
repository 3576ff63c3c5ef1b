// Package core provides the cycle-accurate scheduler core model.
// It wraps the Tomasulo pipeline in an Akita ticking component so that it
// can be driven by an Akita event engine.
package core

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/pipeline"
)

// DefaultFreq is the core clock when none is given.
const DefaultFreq = 1 * sim.GHz

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions completed.
	Instructions uint64
	// Stalls is the number of issue attempts that could not proceed.
	Stalls uint64
	// Faults is the number of units that completed without a result.
	Faults uint64
	// SimTime is the virtual time at which the core last ticked.
	SimTime sim.VTimeInSec
}

// Core is a ticking component that advances the pipeline once per clock.
// The tick reports no progress once the pipeline is done or its cycle
// budget is spent, which lets the engine drain its event queue.
type Core struct {
	*sim.TickingComponent

	// Pipeline is the underlying Tomasulo engine.
	Pipeline *pipeline.Pipeline

	engine  sim.Engine
	regFile *pipeline.RegFile
	memory  *emu.Memory

	lastTick sim.VTimeInSec
	err      error
}

// NewCore creates a new Core with the given register file and memory.
func NewCore(
	name string,
	engine sim.Engine,
	freq sim.Freq,
	regFile *pipeline.RegFile,
	memory *emu.Memory,
	opts ...pipeline.PipelineOption,
) *Core {
	if freq == 0 {
		freq = DefaultFreq
	}

	c := &Core{
		Pipeline: pipeline.NewPipeline(regFile, memory, opts...),
		engine:   engine,
		regFile:  regFile,
		memory:   memory,
	}
	c.TickingComponent = sim.NewTickingComponent(name, engine, freq, c)

	return c
}

// Load appends a program to the instruction queue.
func (c *Core) Load(program []*insts.Instruction) {
	c.Pipeline.Enqueue(program...)
}

// Tick executes one pipeline cycle. It returns false when there is nothing
// left to do.
func (c *Core) Tick() bool {
	if c.Pipeline.Done() {
		return false
	}

	if c.Pipeline.Cycle() >= c.Pipeline.MaxCycles() {
		c.err = fmt.Errorf("%s: %w after %d cycles",
			c.Name(), pipeline.ErrCycleLimit, c.Pipeline.Cycle())
		return false
	}

	c.Pipeline.Tick()
	c.lastTick = c.engine.CurrentTime()

	return true
}

// Start schedules the first tick.
func (c *Core) Start() {
	c.err = nil
	c.TickLater()
}

// Run starts the core and runs the engine until no event remains.
func (c *Core) Run() error {
	c.Start()

	if err := c.engine.Run(); err != nil {
		return err
	}

	return c.err
}

// Done returns true once every instruction has completed.
func (c *Core) Done() bool {
	return c.Pipeline.Done()
}

// Err returns the error that stopped the core, if any.
func (c *Core) Err() error {
	return c.err
}

// RegFile returns the register file of the core.
func (c *Core) RegFile() *pipeline.RegFile {
	return c.regFile
}

// Memory returns the memory of the core.
func (c *Core) Memory() *emu.Memory {
	return c.memory
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	pipeStats := c.Pipeline.Stats()
	return Stats{
		Cycles:       pipeStats.Cycles,
		Instructions: pipeStats.Completed,
		Stalls:       pipeStats.StructuralStalls + pipeStats.RegisterStalls,
		Faults:       pipeStats.Faults,
		SimTime:      c.lastTick,
	}
}

// Reset clears all core state.
func (c *Core) Reset() {
	c.Pipeline.Reset()
	c.err = nil
	c.lastTick = 0
}
