package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	debugMode  bool
	noColor    bool

	rootCmd = &cobra.Command{
		Use:   "snapkeep",
		Short: "Periodic snapshot retention for cloud instances",
		Long: `snapkeep keeps a bounded set of snapshots for every managed instance.

Each run takes the run lock, trims the run log, then for every instance
evicts the oldest snapshot once the instance is at its limit and takes a
new one. Limits default to 4 and can be overridden per instance.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command
func Execute() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func init() {
	rootCmd.SetVersionTemplate(`snapkeep {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default /etc/snapkeep/config.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}
