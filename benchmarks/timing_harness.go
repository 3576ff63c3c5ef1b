// Package benchmarks provides workload programs and a harness that runs them
// through the Tomasulo engine and reports timing results.
package benchmarks

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sarchlab/tomasim/config"
	"github.com/sarchlab/tomasim/loader"
	"github.com/sarchlab/tomasim/timing/pipeline"
)

// Version is reported in JSON benchmark reports.
const Version = "0.1.0"

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// SimulatedCycles is the total cycle count from the timing simulator
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsIssued is the number of instructions accepted by a unit
	InstructionsIssued uint64 `json:"instructions_issued"`

	// InstructionsCompleted is the number of units freed at write-back
	InstructionsCompleted uint64 `json:"instructions_completed"`

	// CPI is cycles per completed instruction
	CPI float64 `json:"cpi"`

	// IPC is completed instructions per cycle
	IPC float64 `json:"ipc"`

	StructuralStalls uint64 `json:"structural_stalls"`
	RegisterStalls   uint64 `json:"register_stalls"`
	Broadcasts       uint64 `json:"broadcasts"`
	Faults           uint64 `json:"faults"`

	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	// Diagnostics counts the non-fatal conditions raised during the run
	Diagnostics int `json:"diagnostics"`

	// Registers holds the final register values
	Registers map[string]float64 `json:"registers"`

	// Passed is false when the run failed or an expectation did not hold
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single workload.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Source is the program in loader format, directives included
	Source string

	// Configure adjusts the simulator configuration for this workload
	Configure func(c *config.Config)

	// ExpectedRegisters are the register values the run must end with
	ExpectedRegisters map[string]float64

	// ExpectedCycles is the exact cycle count, or 0 to skip the check
	ExpectedCycles uint64

	// Check runs extra validation on the result
	Check func(r BenchmarkResult) error
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Config is the simulator configuration every workload starts from.
	// Default: config.DefaultConfig().
	Config *config.Config

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives pipeline events. Default: discard.
	Logger *slog.Logger

	// Verbose prints a status report after the last cycle of each run
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Config:  config.DefaultConfig(),
		Output:  os.Stdout,
		Verbose: false,
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Config == nil {
		config.Config = DefaultConfig().Config
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result := h.runBenchmark(bench)
		results = append(results, result)
	}

	return results
}

func (h *Harness) runBenchmark(bench Benchmark) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
	}

	p, err := h.build(bench)
	if err != nil {
		result.Failures = append(result.Failures, err.Error())
		return result
	}

	start := time.Now()
	runErr := p.Run()
	result.WallTime = time.Since(start)

	stats := p.Stats()
	cacheStats := p.CacheStats()

	result.SimulatedCycles = stats.Cycles
	result.InstructionsIssued = stats.Issued
	result.InstructionsCompleted = stats.Completed
	result.CPI = stats.CPI()
	result.IPC = stats.IPC()
	result.StructuralStalls = stats.StructuralStalls
	result.RegisterStalls = stats.RegisterStalls
	result.Broadcasts = stats.Broadcasts
	result.Faults = stats.Faults
	result.CacheHits = cacheStats.Hits
	result.CacheMisses = cacheStats.Misses
	result.CacheHitRate = cacheStats.HitRate()
	result.Diagnostics = len(p.Diagnostics())

	result.Registers = make(map[string]float64)
	for _, reg := range p.RegFile().Registers() {
		result.Registers[reg.Name] = reg.Value
	}

	if runErr != nil {
		result.Failures = append(result.Failures, runErr.Error())
	}
	result.Failures = append(result.Failures, validate(bench, result)...)
	result.Passed = len(result.Failures) == 0

	if h.config.Verbose {
		_ = p.Snapshot().WriteReport(h.config.Output)
	}

	return result
}

func (h *Harness) build(bench Benchmark) (*pipeline.Pipeline, error) {
	prog, err := loader.Parse(strings.NewReader(bench.Source), bench.Name)
	if err != nil {
		return nil, err
	}

	c := h.config.Config.Clone()
	if bench.Configure != nil {
		bench.Configure(c)
	}
	c.Registers = prog.RegFileConfig(c.Registers)
	if c.Memory == nil {
		c.Memory = make(map[int]float64)
	}
	maps.Copy(c.Memory, prog.Memory)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	memory, err := c.NewMemory()
	if err != nil {
		return nil, err
	}
	regFile, err := c.NewRegFile()
	if err != nil {
		return nil, err
	}

	opts := append(c.PipelineOptions(),
		pipeline.WithLogger(h.config.Logger.With("benchmark", bench.Name)))
	p := pipeline.NewPipeline(regFile, memory, opts...)
	p.Enqueue(prog.Instructions...)

	return p, nil
}

func validate(bench Benchmark, r BenchmarkResult) []string {
	var failures []string

	names := make([]string, 0, len(bench.ExpectedRegisters))
	for name := range bench.ExpectedRegisters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		want := bench.ExpectedRegisters[name]
		got, ok := r.Registers[strings.ToUpper(name)]
		if !ok {
			failures = append(failures, fmt.Sprintf("register %s not found", name))
			continue
		}
		if got != want {
			failures = append(failures,
				fmt.Sprintf("register %s: expected %g, got %g", name, want, got))
		}
	}

	if bench.ExpectedCycles != 0 && r.SimulatedCycles != bench.ExpectedCycles {
		failures = append(failures, fmt.Sprintf("expected %d cycles, got %d",
			bench.ExpectedCycles, r.SimulatedCycles))
	}

	if bench.Check != nil {
		if err := bench.Check(r); err != nil {
			failures = append(failures, err.Error())
		}
	}

	return failures
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "=== Tomasulo Benchmark Results ===")
	_, _ = fmt.Fprintln(h.config.Output, "")

	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}

		_, _ = fmt.Fprintf(h.config.Output, "Benchmark: %s [%s]\n", r.Name, status)
		_, _ = fmt.Fprintf(h.config.Output, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintln(h.config.Output, "  --- Timing ---")
		_, _ = fmt.Fprintf(h.config.Output, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Issued:  %d\n", r.InstructionsIssued)
		_, _ = fmt.Fprintf(h.config.Output, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(h.config.Output, "  IPC:                  %.3f\n", r.IPC)
		_, _ = fmt.Fprintf(h.config.Output, "  Structural Stalls:    %d\n", r.StructuralStalls)
		_, _ = fmt.Fprintf(h.config.Output, "  Broadcasts:           %d\n", r.Broadcasts)
		if r.Faults > 0 || r.Diagnostics > 0 {
			_, _ = fmt.Fprintf(h.config.Output, "  Faults:               %d\n", r.Faults)
			_, _ = fmt.Fprintf(h.config.Output, "  Diagnostics:          %d\n", r.Diagnostics)
		}

		_, _ = fmt.Fprintln(h.config.Output, "  --- Cache ---")
		_, _ = fmt.Fprintf(h.config.Output, "  Hits:     %d\n", r.CacheHits)
		_, _ = fmt.Fprintf(h.config.Output, "  Misses:   %d\n", r.CacheMisses)
		_, _ = fmt.Fprintf(h.config.Output, "  Hit Rate: %.1f%%\n", r.CacheHitRate*100)

		for _, f := range r.Failures {
			_, _ = fmt.Fprintf(h.config.Output, "  ! %s\n", f)
		}

		_, _ = fmt.Fprintf(h.config.Output, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(h.config.Output, "")
	}
}

var csvHeader = []string{
	"name", "cycles", "issued", "completed", "cpi", "ipc",
	"structural_stalls", "register_stalls", "broadcasts", "faults",
	"cache_hits", "cache_misses", "diagnostics", "passed",
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) error {
	w := csv.NewWriter(h.config.Output)

	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Name,
			strconv.FormatUint(r.SimulatedCycles, 10),
			strconv.FormatUint(r.InstructionsIssued, 10),
			strconv.FormatUint(r.InstructionsCompleted, 10),
			strconv.FormatFloat(r.CPI, 'f', 3, 64),
			strconv.FormatFloat(r.IPC, 'f', 3, 64),
			strconv.FormatUint(r.StructuralStalls, 10),
			strconv.FormatUint(r.RegisterStalls, 10),
			strconv.FormatUint(r.Broadcasts, 10),
			strconv.FormatUint(r.Faults, 10),
			strconv.FormatUint(r.CacheHits, 10),
			strconv.FormatUint(r.CacheMisses, 10),
			strconv.Itoa(r.Diagnostics),
			strconv.FormatBool(r.Passed),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	// Metadata about the benchmark run
	Metadata ReportMetadata `json:"metadata"`

	// Results is the list of individual benchmark results
	Results []BenchmarkResult `json:"results"`

	// Summary contains aggregate statistics
	Summary ReportSummary `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// Version of the simulator
	Version string `json:"version"`

	// Config is the simulator configuration the workloads started from
	Config *config.Config `json:"config"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	// TotalBenchmarks is the number of benchmarks run
	TotalBenchmarks int `json:"total_benchmarks"`

	// Passed is the number of benchmarks whose expectations held
	Passed int `json:"passed"`

	// TotalCycles is the sum of all simulated cycles
	TotalCycles uint64 `json:"total_cycles"`

	// TotalInstructions is the sum of all completed instructions
	TotalInstructions uint64 `json:"total_instructions"`

	// AverageCPI is the average cycles per instruction
	AverageCPI float64 `json:"average_cpi"`

	// TotalWallTime is the total wall clock time for all benchmarks
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		s.TotalCycles += r.SimulatedCycles
		s.TotalInstructions += r.InstructionsCompleted
		s.TotalWallTime += r.WallTime
		if r.Passed {
			s.Passed++
		}
	}

	if s.TotalInstructions > 0 {
		s.AverageCPI = float64(s.TotalCycles) / float64(s.TotalInstructions)
	}

	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
			Config:    h.config.Config,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// ErrUnknownBenchmark is returned by Select for a name with no workload.
var ErrUnknownBenchmark = errors.New("unknown benchmark")

// Select returns the workloads with the given names, in the given order.
// No names selects every workload.
func Select(names ...string) ([]Benchmark, error) {
	all := GetWorkloads()
	if len(names) == 0 {
		return all, nil
	}

	selected := make([]Benchmark, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(all, func(b Benchmark) bool { return b.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBenchmark, name)
		}
		selected = append(selected, all[i])
	}

	return selected, nil
}
