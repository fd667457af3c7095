package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapkeep/orchestrator"
)

var (
	runDryRun bool
	runStrict bool
	runQuiet  bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one retention pass and exit",
	Long: `Run one unattended retention pass over every managed instance.

Exit codes:
  0  the run completed (per-instance failures are logged)
  1  configuration error, lock held, enumeration failed or interrupted
  2  --strict and at least one instance failed`,
	Example: `  snapkeep run                       # Rotate every instance
  snapkeep run --dry-run             # Show what would be deleted and created
  snapkeep run --strict              # Exit 2 if any instance failed
  snapkeep run --config ./dev.yaml   # Use a local config file`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		code, err := executeRun(ctx, cmd.OutOrStdout(), os.Stderr)
		if code != orchestrator.ExitOK {
			return &exitError{code: code, err: err}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print intended deletions and creations without changing anything")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Exit 2 when any instance failed")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress the report table and console logs")
}

// executeRun performs one pass and returns the process exit code
func executeRun(ctx context.Context, out, console io.Writer) (int, error) {
	a, err := newApp(ctx, appOptions{console: !runQuiet, consoleOut: console, inventory: true})
	if err != nil {
		return orchestrator.ExitFatal, err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	policy, err := orchestrator.ParseExitPolicy(a.cfg.ExitPolicy)
	if err != nil {
		return orchestrator.ExitFatal, err
	}
	if runStrict {
		policy = orchestrator.ExitStrict
	}

	o, err := a.orchestrator(runDryRun || a.cfg.DryRun, policy)
	if err != nil {
		return orchestrator.ExitFatal, err
	}

	report, err := o.RunOnce(ctx)
	if report != nil && !runQuiet {
		newReportRenderer(out, noColor).RenderRun(report)
	}

	code := orchestrator.ExitCode(report, err, policy)
	if err == nil && code == orchestrator.ExitFailures {
		return code, nil
	}
	return code, err
}
