package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/tomasim/benchmarks"
)

type benchOptions struct {
	*rootOptions

	format string
	core   bool
	report bool
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	opts := &benchOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "bench [workload...]",
		Short: "Run the built-in workloads and report their timing.",
		Long: `Bench runs the named workloads, or all of them, checks their final ` +
			`register values and prints cycle counts, stalls and cache statistics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", "table",
		"output format: table, csv or json")
	flags.BoolVar(&opts.core, "core", false,
		"run only the core workloads")
	flags.BoolVar(&opts.report, "report", false,
		"print the final status report of every workload")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the built-in workloads.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, b := range benchmarks.GetWorkloads() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", b.Name, b.Description)
			}
		},
	})

	return cmd
}

func (o *benchOptions) run(cmd *cobra.Command, names []string) error {
	c, err := o.loadConfig()
	if err != nil {
		return err
	}

	workloads := benchmarks.GetCoreBenchmarks()
	if !o.core {
		workloads, err = benchmarks.Select(names...)
		if err != nil {
			return err
		}
	}

	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{
		Config:  c,
		Output:  cmd.OutOrStdout(),
		Logger:  o.logger,
		Verbose: o.report,
	})
	harness.AddBenchmarks(workloads)

	results := harness.RunAll()

	switch o.format {
	case "table":
		harness.PrintResults(results)
	case "csv":
		err = harness.PrintCSV(results)
	case "json":
		err = harness.PrintJSON(results)
	default:
		err = fmt.Errorf("unknown format %q", o.format)
	}
	if err != nil {
		return err
	}

	summary := benchmarks.Summarize(results)
	if summary.Passed != summary.TotalBenchmarks {
		return fmt.Errorf("%d of %d workloads failed",
			summary.TotalBenchmarks-summary.Passed, summary.TotalBenchmarks)
	}

	return nil
}
