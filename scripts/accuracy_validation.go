// Package main checks that the different ways of driving the engine agree.
// The pipeline run directly, the pipeline after Reset, and the Akita-driven
// core must end every workload in the same state after the same number of
// cycles.
package main

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/tomasim/benchmarks"
	"github.com/sarchlab/tomasim/config"
	"github.com/sarchlab/tomasim/loader"
	"github.com/sarchlab/tomasim/timing/core"
	"github.com/sarchlab/tomasim/timing/pipeline"
)

type outcome struct {
	cycles    uint64
	registers map[string]float64
	misses    uint64
}

func (o outcome) equal(other outcome) bool {
	return o.cycles == other.cycles &&
		o.misses == other.misses &&
		maps.Equal(o.registers, other.registers)
}

func capture(p *pipeline.Pipeline) outcome {
	o := outcome{
		cycles:    p.Cycle(),
		misses:    p.CacheStats().Misses,
		registers: make(map[string]float64),
	}
	for _, r := range p.RegFile().Registers() {
		o.registers[r.Name] = r.Value
	}
	return o
}

func setup(b benchmarks.Benchmark) (*config.Config, *loader.Program, error) {
	prog, err := loader.Parse(strings.NewReader(b.Source), b.Name)
	if err != nil {
		return nil, nil, err
	}

	c := config.DefaultConfig()
	if b.Configure != nil {
		b.Configure(c)
	}
	c.Registers = prog.RegFileConfig(c.Registers)
	c.Memory = prog.Memory

	return c, prog, c.Validate()
}

// runDirect runs the workload twice on one pipeline, resetting the machine
// in between, and returns both outcomes.
func runDirect(b benchmarks.Benchmark) (outcome, outcome, error) {
	c, prog, err := setup(b)
	if err != nil {
		return outcome{}, outcome{}, err
	}

	var outcomes [2]outcome
	var p *pipeline.Pipeline
	for i := range outcomes {
		memory, err := c.NewMemory()
		if err != nil {
			return outcome{}, outcome{}, err
		}
		regFile, err := c.NewRegFile()
		if err != nil {
			return outcome{}, outcome{}, err
		}

		if p == nil {
			p = pipeline.NewPipeline(regFile, memory, c.PipelineOptions()...)
		} else {
			p.Reset()
			for _, r := range regFile.Registers() {
				_ = p.RegFile().SetValue(r.Name, r.Value)
			}
			p.Memory().Reset()
			_ = p.Memory().Load(c.Memory)
		}

		p.Enqueue(prog.Instructions...)
		if err := p.Run(); err != nil {
			return outcome{}, outcome{}, err
		}
		outcomes[i] = capture(p)
	}

	return outcomes[0], outcomes[1], nil
}

func runCore(b benchmarks.Benchmark) (outcome, error) {
	c, prog, err := setup(b)
	if err != nil {
		return outcome{}, err
	}

	memory, err := c.NewMemory()
	if err != nil {
		return outcome{}, err
	}
	regFile, err := c.NewRegFile()
	if err != nil {
		return outcome{}, err
	}

	engine := sim.NewSerialEngine()
	cpu := core.NewCore("Core", engine, core.DefaultFreq, regFile, memory,
		c.PipelineOptions()...)
	cpu.Load(prog.Instructions)

	if err := cpu.Run(); err != nil {
		return outcome{}, err
	}

	return capture(cpu.Pipeline), nil
}

func main() {
	fmt.Println("Tomasulo Engine Consistency Validation")
	fmt.Println("======================================")

	allPassed := true

	for _, b := range benchmarks.GetWorkloads() {
		first, second, err := runDirect(b)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", b.Name, err)
			allPassed = false
			continue
		}

		driven, err := runCore(b)
		if err != nil {
			fmt.Printf("FAIL %s: core: %v\n", b.Name, err)
			allPassed = false
			continue
		}

		switch {
		case !first.equal(second):
			fmt.Printf("FAIL %s: rerun after Reset differs: %+v vs %+v\n",
				b.Name, first, second)
			allPassed = false
		case !first.equal(driven):
			fmt.Printf("FAIL %s: core differs: %+v vs %+v\n", b.Name, first, driven)
			allPassed = false
		default:
			fmt.Printf("ok   %s: %d cycles, %d misses\n", b.Name, first.cycles, first.misses)
		}
	}

	fmt.Println()
	if !allPassed {
		fmt.Println("CONSISTENCY CHECKS FAILED")
		os.Exit(1)
	}
	fmt.Println("All consistency checks passed")
}
