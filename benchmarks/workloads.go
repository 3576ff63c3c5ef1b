package benchmarks

import (
	"fmt"

	"github.com/sarchlab/tomasim/config"
)

// GetWorkloads returns the standard set of workloads. Each one targets a
// specific part of the Tomasulo engine.
func GetWorkloads() []Benchmark {
	return []Benchmark{
		classic(),
		dependencyChain(),
		structuralStall(),
		wawRename(),
		cacheReuse(),
		cacheThrash(),
		storeThenLoad(),
		immediateOps(),
		branchCompare(),
		divideByZero(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		classic(),
		structuralStall(),
		cacheReuse(),
	}
}

// 1. Classic - the textbook Tomasulo example
func classic() Benchmark {
	return Benchmark{
		Name:        "classic",
		Description: "Two loads feeding a MUL/SUB/DIV/ADD mix - the textbook example",
		Source: `
.mem 0 2.0
.mem 4 2.0
L.D   F6, 0
L.D   F2, 4
MUL.D F0, F2, F4
SUB.D F8, F6, F2
DIV.D F10, F0, F6
ADD.D F6, F8, F2
`,
		ExpectedRegisters: map[string]float64{
			"F0": 0, "F2": 2, "F6": 2, "F8": 0, "F10": 0,
		},
		ExpectedCycles: 12,
		Check:          misses(2),
	}
}

// 2. Dependency Chain - every instruction waits on the one before it
func dependencyChain() Benchmark {
	return Benchmark{
		Name:        "dependency_chain",
		Description: "Five dependent FP operations - measures broadcast latency",
		Source: `
.reg F2 1.5
ADD.D F0, F2, F2
MUL.D F4, F0, F2
SUB.D F6, F4, F0
DIV.D F8, F6, F2
ADD.D F10, F8, F8
`,
		ExpectedRegisters: map[string]float64{
			"F0": 3, "F4": 4.5, "F6": 1.5, "F8": 1, "F10": 2,
		},
	}
}

// 3. Structural Stall - more divides than mul/div stations
func structuralStall() Benchmark {
	return Benchmark{
		Name:        "structural_stall",
		Description: "Four independent DIVs on three stations - measures issue stalls",
		Source: `
.reg F2 6
.reg F4 3
DIV.D F0, F2, F4
DIV.D F6, F2, F4
DIV.D F8, F2, F4
DIV.D F10, F2, F4
`,
		ExpectedRegisters: map[string]float64{
			"F0": 2, "F6": 2, "F8": 2, "F10": 2,
		},
		Check: func(r BenchmarkResult) error {
			if r.StructuralStalls == 0 {
				return fmt.Errorf("expected structural stalls, got none")
			}
			return nil
		},
	}
}

// 4. WAW Rename - a slow and a fast producer of the same register
func wawRename() Benchmark {
	return Benchmark{
		Name:        "waw_rename",
		Description: "MUL then ADD into F0 - the latest issue must win",
		Source: `
.reg F2 2
.reg F4 3
MUL.D F0, F2, F4
ADD.D F0, F2, F4
ADD.D F6, F0, F0
`,
		ExpectedRegisters: map[string]float64{
			"F0": 5, "F6": 10,
		},
	}
}

// 5. Cache Reuse - four loads from one block
func cacheReuse() Benchmark {
	return Benchmark{
		Name:        "cache_reuse",
		Description: "Four loads from the same block - one miss, three hits",
		Source: `
.mem 0 1
.mem 1 2
.mem 2 3
.mem 3 4
L.D   F0, 0
L.D   F2, 1
L.D   F4, 2
L.D   F6, 3
ADD.D F8, F0, F2
ADD.D F10, F4, F6
`,
		ExpectedRegisters: map[string]float64{
			"F0": 1, "F2": 2, "F4": 3, "F6": 4, "F8": 3, "F10": 7,
		},
		Check: func(r BenchmarkResult) error {
			if r.CacheMisses != 1 || r.CacheHits != 3 {
				return fmt.Errorf("expected 1 miss and 3 hits, got %d and %d",
					r.CacheMisses, r.CacheHits)
			}
			return nil
		},
	}
}

// 6. Cache Thrash - five blocks through a four-block FIFO cache
func cacheThrash() Benchmark {
	return Benchmark{
		Name:        "cache_thrash",
		Description: "Loads touching five blocks, then the first again - FIFO eviction",
		Source: `
.mem 0 1
.mem 16 2
L.D F0, 0
L.D F2, 4
L.D F4, 8
L.D F6, 12
L.D F8, 16
L.D F10, 0
`,
		Configure: func(c *config.Config) {
			c.Cache.Size = 16
			c.Cache.BlockSize = 4
		},
		ExpectedRegisters: map[string]float64{
			"F0": 1, "F8": 2, "F10": 1,
		},
		Check: misses(6),
	}
}

// 7. Store Then Load - a load reads what an earlier store wrote
func storeThenLoad() Benchmark {
	return Benchmark{
		Name:        "store_then_load",
		Description: "S.D then L.D of the same address - memory round trip",
		Source: `
.reg F2 5
S.D   F2, 8
L.D   F4, 8
ADD.D F6, F4, F4
`,
		ExpectedRegisters: map[string]float64{
			"F4": 5, "F6": 10,
		},
	}
}

// 8. Immediate Ops - DADDI and DSUBI
func immediateOps() Benchmark {
	return Benchmark{
		Name:        "immediate_ops",
		Description: "DADDI then DSUBI on the result - integer immediate path",
		Source: `
.reg F2 10
DADDI F4, F2, #4
DSUBI F6, F4, #1
`,
		ExpectedRegisters: map[string]float64{
			"F4": 14, "F6": 13,
		},
	}
}

// 9. Branch Compare - branches occupy a station but rename nothing
func branchCompare() Benchmark {
	return Benchmark{
		Name:        "branch_compare",
		Description: "BEQ between two adds - no register is renamed by the branch",
		Source: `
.reg F2 1
ADD.D F4, F2, F2
BEQ   F4, F2, SKIP
ADD.D F6, F4, F2
SKIP:
`,
		ExpectedRegisters: map[string]float64{
			"F4": 2, "F6": 3,
		},
	}
}

// 10. Divide By Zero - the result is zero and the run goes on
func divideByZero() Benchmark {
	return Benchmark{
		Name:        "divide_by_zero",
		Description: "DIV.D by a zero register - non-fatal diagnostic",
		Source: `
.reg F2 4
DIV.D F0, F2, F4
ADD.D F6, F0, F2
`,
		ExpectedRegisters: map[string]float64{
			"F0": 0, "F6": 4,
		},
		Check: func(r BenchmarkResult) error {
			if r.Diagnostics != 1 {
				return fmt.Errorf("expected 1 diagnostic, got %d", r.Diagnostics)
			}
			return nil
		},
	}
}

func misses(n uint64) func(BenchmarkResult) error {
	return func(r BenchmarkResult) error {
		if r.CacheMisses != n {
			return fmt.Errorf("expected %d cache misses, got %d", n, r.CacheMisses)
		}
		return nil
	}
}
