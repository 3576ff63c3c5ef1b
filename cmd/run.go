package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"time"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/spf13/cobra"

	"github.com/sarchlab/tomasim/loader"
	"github.com/sarchlab/tomasim/monitoring"
	"github.com/sarchlab/tomasim/timing/core"
	"github.com/sarchlab/tomasim/timing/pipeline"
	"github.com/sarchlab/tomasim/tracing"
)

type runOptions struct {
	*rootOptions

	trace     bool
	traceDB   string
	monitor   string
	open      bool
	keep      bool
	freqGHz   float64
	maxCycles uint64
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a program to completion.",
		Long: `Run loads a program file, runs it until every instruction has ` +
			`completed and prints the final machine state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.trace, "trace", false,
		"print a status report after every cycle")
	flags.StringVar(&opts.traceDB, "trace-db", os.Getenv("TOMASIM_TRACE_DB"),
		"record the run in a SQLite database with this name")
	flags.StringVar(&opts.monitor, "monitor", os.Getenv("TOMASIM_MONITOR_ADDR"),
		"serve the recorded state over HTTP on this address")
	flags.BoolVar(&opts.open, "open", false,
		"open the monitoring page in a browser")
	flags.BoolVar(&opts.keep, "keep-serving", false,
		"keep the monitoring server up until interrupted")
	flags.Float64Var(&opts.freqGHz, "freq", 1,
		"core clock in GHz")
	flags.Uint64Var(&opts.maxCycles, "max-cycles", 0,
		"cycle budget, overriding the configuration")

	return cmd
}

// cycleReporter prints a status report at the end of every cycle.
type cycleReporter struct {
	w io.Writer
}

func (r cycleReporter) Func(ctx sim.HookCtx) {
	if ctx.Pos != pipeline.HookPosCycleEnd {
		return
	}
	if s, ok := ctx.Item.(pipeline.Snapshot); ok {
		_ = s.WriteReport(r.w)
		_, _ = fmt.Fprintln(r.w)
	}
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	c, err := o.loadConfig()
	if err != nil {
		return err
	}

	prog, err := loader.Load(path)
	if err != nil {
		return err
	}

	if o.maxCycles > 0 {
		c.MaxCycles = o.maxCycles
	}
	c.Registers = prog.RegFileConfig(c.Registers)
	if c.Memory == nil {
		c.Memory = make(map[int]float64)
	}
	maps.Copy(c.Memory, prog.Memory)
	if err := c.Validate(); err != nil {
		return err
	}

	memory, err := c.NewMemory()
	if err != nil {
		return err
	}
	regFile, err := c.NewRegFile()
	if err != nil {
		return err
	}

	engine := sim.NewSerialEngine()
	freq := sim.Freq(o.freqGHz) * sim.GHz
	opts := append(c.PipelineOptions(), pipeline.WithLogger(o.logger))
	tomasulo := core.NewCore("Core", engine, freq, regFile, memory, opts...)
	tomasulo.Load(prog.Instructions)

	out := cmd.OutOrStdout()

	if o.trace {
		tomasulo.Pipeline.AcceptHook(cycleReporter{w: out})
	}

	if o.traceDB != "" {
		writer := tracing.NewSQLiteWriter(o.traceDB)
		if err := writer.Init(); err != nil {
			return err
		}
		defer func() { _ = writer.Close() }()
		tomasulo.Pipeline.AcceptHook(writer)
		o.logger.Info("tracing", "db", writer.FileName(), "run", writer.RunID())
	}

	var server *monitoring.Server
	if o.monitor != "" || o.open {
		collector := tracing.NewCollector(0)
		tomasulo.Pipeline.AcceptHook(collector)

		server = monitoring.NewServer(collector, monitoring.WithLogger(o.logger))
		if _, err := server.Start(o.monitor); err != nil {
			return err
		}
		defer func() { _ = server.Shutdown(context.Background()) }()

		if o.open {
			if err := server.Open(); err != nil {
				o.logger.Warn("cannot open browser", "err", err)
			}
		}
	}

	runErr := tomasulo.Run()

	if err := tomasulo.Pipeline.Snapshot().WriteReport(out); err != nil {
		return err
	}
	printSummary(out, tomasulo)

	for _, d := range tomasulo.Pipeline.Diagnostics() {
		o.logger.Warn("diagnostic", "cycle", d.Cycle, "unit", d.Unit, "err", d.Err)
	}

	if server != nil && o.keep {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop the monitoring server.")
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}

	return runErr
}

func printSummary(w io.Writer, c *core.Core) {
	stats := c.Stats()
	pipeStats := c.Pipeline.Stats()
	cacheStats := c.Pipeline.CacheStats()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Cycles:       %d\n", stats.Cycles)
	fmt.Fprintf(w, "  Instructions: %d\n", stats.Instructions)
	fmt.Fprintf(w, "  CPI:          %.3f\n", pipeStats.CPI())
	fmt.Fprintf(w, "  Stalls:       %d\n", stats.Stalls)
	fmt.Fprintf(w, "  Faults:       %d\n", stats.Faults)
	fmt.Fprintf(w, "  Cache:        %d hits, %d misses\n", cacheStats.Hits, cacheStats.Misses)
	fmt.Fprintf(w, "  Sim Time:     %.9fs\n", float64(stats.SimTime))
}
