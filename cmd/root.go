// Package cmd provides the command-line interface for tomasim.
package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tomasim/config"
)

type rootOptions struct {
	configPath string
	verbose    bool

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tomasim",
		Short: "Tomasulo out-of-order scheduling simulator.",
		Long: `tomasim runs floating-point programs through a cycle-level model of ` +
			`Tomasulo's algorithm: reservation stations, load and store buffers, ` +
			`a common data bus and a small data cache.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.verbose)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c",
		os.Getenv("TOMASIM_CONFIG"), "simulator configuration JSON file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"log issue, stall and broadcast events")

	cmd.AddCommand(
		newRunCmd(opts),
		newBenchCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

// Execute runs the root command and exits. Functions registered with atexit,
// such as trace database flushes, run before the process ends.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig returns the configuration named by --config, or the default
// one.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.DefaultConfig(), nil
	}

	c, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}
