// Measures decoder throughput and allocations on the assembly text of the
// built-in workloads.
package main

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sarchlab/tomasim/benchmarks"
	"github.com/sarchlab/tomasim/insts"
)

func main() {
	var lines []string
	for _, b := range benchmarks.GetWorkloads() {
		for _, line := range strings.Split(b.Source, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ".") || strings.HasSuffix(line, ":") {
				continue
			}
			lines = append(lines, line)
		}
	}

	decoder := insts.NewDecoder()

	// Every line must decode and print back to something that decodes the
	// same way.
	for _, line := range lines {
		inst, err := decoder.Decode(line)
		if err != nil {
			fmt.Printf("FAIL decode %q: %v\n", line, err)
			return
		}
		again, err := decoder.Decode(inst.String())
		if err != nil || *again != *inst {
			fmt.Printf("FAIL round trip %q -> %q\n", line, inst.String())
			return
		}
	}

	// Warm up
	for i := 0; i < 1000; i++ {
		_, _ = decoder.Decode(lines[i%len(lines)])
	}

	runtime.GC()
	var m1, m2 runtime.MemStats
	runtime.ReadMemStats(&m1)

	start := time.Now()
	iterations := 20000

	for i := 0; i < iterations; i++ {
		for _, line := range lines {
			_, _ = decoder.Decode(line)
		}
	}

	elapsed := time.Since(start)
	runtime.ReadMemStats(&m2)

	totalDecodes := iterations * len(lines)
	allocations := m2.Mallocs - m1.Mallocs
	allocatedBytes := m2.TotalAlloc - m1.TotalAlloc

	fmt.Printf("Decoder Validation Results:\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Distinct lines: %d\n", len(lines))
	fmt.Printf("Total decode operations: %d\n", totalDecodes)
	fmt.Printf("Time elapsed: %v\n", elapsed)
	fmt.Printf("Decodes per second: %.0f\n", float64(totalDecodes)/elapsed.Seconds())
	fmt.Printf("Allocations per decode: %.3f\n", float64(allocations)/float64(totalDecodes))
	fmt.Printf("Bytes per decode: %.1f\n", float64(allocatedBytes)/float64(totalDecodes))
}
