package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/yairfalse/snapkeep/internal/daemon"
	"github.com/yairfalse/snapkeep/orchestrator"
)

var (
	daemonSchedule    string
	daemonMetricsAddr string
	daemonRunOnStart  bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run retention passes on a cron schedule",
	Long: `Run snapkeep as a long-lived process that triggers a retention pass on a
cron schedule.

A tick that finds the run lock held is logged and skipped. Metrics are
served on /metrics and health on /healthz.`,
	Example: `  snapkeep daemon                                # Schedule from config
  snapkeep daemon --schedule "0 */6 * * *"       # Every six hours
  snapkeep daemon --metrics-addr 127.0.0.1:9090  # Custom metrics address`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "Cron schedule (overrides daemon.schedule)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics listen address (overrides daemon.metrics_addr)")
	daemonCmd.Flags().BoolVar(&daemonRunOnStart, "run-on-start", false, "Run one pass immediately on startup")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{console: true, inventory: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	if daemonSchedule != "" {
		a.cfg.Daemon.Schedule = daemonSchedule
	}
	if daemonMetricsAddr != "" {
		a.cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}

	policy, err := orchestrator.ParseExitPolicy(a.cfg.ExitPolicy)
	if err != nil {
		return err
	}
	o, err := a.orchestrator(a.cfg.DryRun, policy)
	if err != nil {
		return err
	}

	d, err := daemon.NewDaemon(o, daemon.Config{
		Schedule:       a.cfg.Daemon.Schedule,
		MetricsAddr:    a.cfg.Daemon.MetricsAddr,
		MetricsHandler: a.telemetry.MetricsHandler(),
		RunOnStart:     daemonRunOnStart,
	})
	if err != nil {
		return err
	}

	metrics, err := daemon.NewDaemonMetrics(a.telemetry.Meter())
	if err != nil {
		return fmt.Errorf("init daemon metrics: %w", err)
	}
	d.WithLogger(a.logger.Logger).WithMetrics(metrics)

	a.logger.Info().
		Str("provider", a.cfg.Provider).
		Str("schedule", a.cfg.Daemon.Schedule).
		Str("metrics_addr", a.cfg.Daemon.MetricsAddr).
		Bool("dry_run", a.cfg.DryRun).
		Msg("snapkeep daemon starting")

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(ctx)
		}, func(error) {
			cancel()
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		a.logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}
