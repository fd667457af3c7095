// Package daemon triggers retention runs on a cron schedule and serves
// metrics and health over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/telemetry"
	"github.com/yairfalse/snapkeep/types"
)

// Tick statuses, shared with the run metrics
const (
	StatusOK       = telemetry.RunStatusOK
	StatusPartial  = telemetry.RunStatusPartial
	StatusConflict = telemetry.RunStatusConflict
	StatusFailed   = telemetry.RunStatusFailed
)

// Config holds daemon configuration
type Config struct {
	// Schedule is a standard five-field cron expression
	Schedule string
	// MetricsAddr is the listen address for /metrics and /healthz; empty disables HTTP
	MetricsAddr string
	// MetricsHandler serves /metrics
	MetricsHandler http.Handler
	// RunOnStart triggers one run before the first tick
	RunOnStart bool
}

// Daemon manages scheduled retention runs
type Daemon struct {
	runner   orchestrator.Runner
	config   Config
	schedule cron.Schedule
	logger   zerolog.Logger
	metrics  *DaemonMetrics

	startTime time.Time
	runs      atomic.Int64
	conflicts atomic.Int64
	failures  atomic.Int64

	mu       sync.Mutex
	last     *LastRun
	nextRun  time.Time
	listener net.Addr
}

// LastRun describes the most recent tick
type LastRun struct {
	RunID    string        `json:"run_id,omitempty"`
	Status   string        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewDaemon validates the schedule and creates a daemon
func NewDaemon(runner orchestrator.Runner, config Config) (*Daemon, error) {
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, types.NewConfigError("daemon.schedule", "invalid cron schedule %q: %w", config.Schedule, err)
	}

	return &Daemon{
		runner:    runner,
		config:    config,
		schedule:  schedule,
		logger:    zerolog.Nop(),
		startTime: time.Now(),
	}, nil
}

// WithLogger sets the logger
func (d *Daemon) WithLogger(logger zerolog.Logger) *Daemon {
	d.logger = logger
	return d
}

// WithMetrics sets the daemon instruments
func (d *Daemon) WithMetrics(metrics *DaemonMetrics) *Daemon {
	d.metrics = metrics
	return d
}

// Start runs the scheduler and the HTTP server until ctx is done or one
// of them fails
func (d *Daemon) Start(ctx context.Context) error {
	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
		})
	}

	{
		scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		scheduler.Schedule(d.schedule, cron.FuncJob(func() { d.Tick(ctx) }))

		done := make(chan struct{})
		g.Add(func() error {
			if d.config.RunOnStart {
				d.Tick(ctx)
			}
			scheduler.Start()
			d.setNextRun(scheduler)
			d.logger.Info().Str("schedule", d.config.Schedule).Msg("scheduler started")
			<-done
			return nil
		}, func(error) {
			stopped := scheduler.Stop()
			<-stopped.Done()
			close(done)
		})
	}

	if d.config.MetricsAddr != "" {
		listener, err := net.Listen("tcp", d.config.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", d.config.MetricsAddr, err)
		}
		d.mu.Lock()
		d.listener = listener.Addr()
		d.mu.Unlock()

		server := &http.Server{
			Handler:           d.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			d.logger.Info().Str("addr", listener.Addr().String()).Msg("metrics server listening")
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	return g.Run()
}

// Tick performs one scheduled run. A held lock is counted, not fatal.
func (d *Daemon) Tick(ctx context.Context) {
	started := time.Now()
	d.runs.Add(1)

	report, err := d.runner.RunOnce(ctx)
	last := &LastRun{Started: started, Duration: time.Since(started)}
	if report != nil {
		last.RunID = report.RunID
	}

	switch {
	case errors.Is(err, types.ErrAlreadyRunning):
		d.conflicts.Add(1)
		last.Status = StatusConflict
		last.Error = err.Error()
		d.logger.Warn().Err(err).Msg("skipping tick, another run holds the lock")
	case err != nil:
		d.failures.Add(1)
		last.Status = StatusFailed
		last.Error = err.Error()
		d.logger.Error().Err(err).Msg("scheduled run failed")
	case report != nil && (report.Failed > 0 || report.Interrupted):
		last.Status = StatusPartial
	default:
		last.Status = StatusOK
	}

	d.metrics.RecordTick(ctx, last.Status, last.Duration)

	d.mu.Lock()
	d.last = last
	d.mu.Unlock()
}

func (d *Daemon) setNextRun(scheduler *cron.Cron) {
	entries := scheduler.Entries()
	if len(entries) == 0 {
		return
	}
	d.mu.Lock()
	d.nextRun = entries[0].Next
	d.mu.Unlock()
}

// Addr returns the bound metrics address once Start is listening
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// Handler serves /metrics and /healthz
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	if d.config.MetricsHandler != nil {
		mux.Handle("/metrics", d.config.MetricsHandler)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := d.Health()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	return mux
}

// Health returns daemon health status. The daemon is degraded when the
// last run failed outright; partial runs and lock conflicts are healthy.
func (d *Daemon) Health() HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := HealthStatus{
		Status:    "healthy",
		Uptime:    int64(time.Since(d.startTime).Seconds()),
		Runs:      d.runs.Load(),
		Conflicts: d.conflicts.Load(),
		Failures:  d.failures.Load(),
		LastRun:   d.last,
	}
	if !d.nextRun.IsZero() {
		next := d.nextRun
		status.NextRun = &next
	}
	if d.last != nil && d.last.Status == StatusFailed {
		status.Status = "degraded"
	}
	return status
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string     `json:"status"`
	Uptime    int64      `json:"uptime_seconds"`
	Runs      int64      `json:"runs"`
	Conflicts int64      `json:"conflicts"`
	Failures  int64      `json:"failures"`
	LastRun   *LastRun   `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// RunCount returns total ticks run
func (d *Daemon) RunCount() int64 {
	return d.runs.Load()
}
