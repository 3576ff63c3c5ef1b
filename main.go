// Package main provides the entry point for tomasim, a cycle-level simulator
// of Tomasulo's out-of-order scheduling algorithm.
//
// Defaults for some flags come from the environment, and from a .env file
// in the working directory if there is one:
//
//	TOMASIM_CONFIG        simulator configuration file (--config)
//	TOMASIM_TRACE_DB      SQLite trace database name (--trace-db)
//	TOMASIM_MONITOR_ADDR  monitoring server address (--monitor)
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/sarchlab/tomasim/cmd"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
	}

	cmd.Execute()
}
