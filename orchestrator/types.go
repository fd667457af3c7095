package orchestrator

import (
	"context"
	"time"

	"github.com/yairfalse/snapkeep/rotation"
	"github.com/yairfalse/snapkeep/telemetry"
	"github.com/yairfalse/snapkeep/types"
)

// ExitPolicy decides whether per-instance failures fail the process
type ExitPolicy string

const (
	// ExitLenient exits zero once enumeration succeeded
	ExitLenient ExitPolicy = "lenient"
	// ExitStrict exits non-zero when any instance failed
	ExitStrict ExitPolicy = "strict"
)

// Process exit codes
const (
	ExitOK       = 0
	ExitFatal    = 1
	ExitFailures = 2
)

// ParseExitPolicy validates a policy name. Empty means ExitLenient.
func ParseExitPolicy(name string) (ExitPolicy, error) {
	switch ExitPolicy(name) {
	case "", ExitLenient:
		return ExitLenient, nil
	case ExitStrict:
		return ExitStrict, nil
	default:
		return "", types.NewConfigError("exit_policy", "unknown policy %q (want lenient or strict)", name)
	}
}

// RunReport contains the results of one retention run
type RunReport struct {
	RunID       string            `json:"run_id"`
	Provider    string            `json:"provider"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Duration    time.Duration     `json:"duration"`
	Timestamp   string            `json:"timestamp"`
	DryRun      bool              `json:"dry_run"`
	Instances   int               `json:"instances"`
	Results     []rotation.Result `json:"results"`
	Created     int               `json:"created"`
	Evicted     int               `json:"evicted"`
	Failed      int               `json:"failed"`
	Interrupted bool              `json:"interrupted"`
	Compacted   int               `json:"compacted"`
	Errors      []string          `json:"errors,omitempty"`
}

// Failures returns the results that ended in a failed state
func (r *RunReport) Failures() []rotation.Result {
	var failed []rotation.Result
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Status summarizes the run for metrics and logs
func (r *RunReport) Status() string {
	switch {
	case r.Interrupted:
		return telemetry.RunStatusInterrupted
	case r.Failed > 0:
		return telemetry.RunStatusPartial
	default:
		return telemetry.RunStatusOK
	}
}

// ExitCode maps a RunOnce outcome to a process exit code
func ExitCode(report *RunReport, err error, policy ExitPolicy) int {
	if err != nil || report == nil {
		return ExitFatal
	}
	if report.Interrupted {
		return ExitFatal
	}
	if policy == ExitStrict && report.Failed > 0 {
		return ExitFailures
	}
	return ExitOK
}

// Notifier receives every finished report
type Notifier interface {
	Notify(ctx context.Context, report *RunReport) error
}

// NopNotifier drops reports
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *RunReport) error { return nil }

// Runner is what the scheduler drives
type Runner interface {
	RunOnce(ctx context.Context) (*RunReport, error)
}
