package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapkeep/limits"
	"github.com/yairfalse/snapkeep/logstore"
	"github.com/yairfalse/snapkeep/providers/memory"
	"github.com/yairfalse/snapkeep/rotation"
	"github.com/yairfalse/snapkeep/runlock"
	"github.com/yairfalse/snapkeep/telemetry"
	"github.com/yairfalse/snapkeep/types"
)

var (
	baseTime = time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	runTime  = time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)
)

func snapshots(prefix string, n int) []types.Snapshot {
	out := make([]types.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.Snapshot{
			ID:        fmt.Sprintf("%s-old-%d", prefix, i),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Hour),
		})
	}
	return out
}

type fixture struct {
	provider *memory.Provider
	locker   *runlock.FileLocker
	store    *logstore.FileStore
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := logstore.OpenFile(filepath.Join(dir, "snapkeep.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &fixture{
		provider: memory.New("ewr").WithClock(func() time.Time { return runTime }),
		locker:   runlock.NewFileLocker(filepath.Join(dir, "snapkeep.lock")),
		store:    store,
		dir:      dir,
	}
}

func (f *fixture) orchestrator(t *testing.T, overrides map[string]int, options Options) *Orchestrator {
	t.Helper()
	resolver, err := limits.NewResolver(limits.DefaultLimit, overrides)
	require.NoError(t, err)

	logger := telemetry.NewLogger("snapkeep", telemetry.LoggerOptions{Store: f.store, Level: "debug"})
	return NewOrchestrator(f.provider, resolver, f.locker, f.store, options).
		WithLogger(logger).
		WithClock(func() time.Time { return runTime })
}

func (f *fixture) records(t *testing.T) []map[string]any {
	t.Helper()
	recs, err := f.store.Tail(-1)
	require.NoError(t, err)

	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		var entry map[string]any
		if json.Unmarshal(r.Data, &entry) == nil {
			out = append(out, entry)
		}
	}
	return out
}

func TestRunOnce_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1", Tag: "web", Plan: "vc2", Region: "ewr"}, snapshots("i1", 4)...)
	f.provider.AddInstance(types.Instance{ID: "i2", Label: "db", Plan: "vc2", Region: "ewr"})

	report, err := f.orchestrator(t, map[string]int{"i2": 3}, Options{}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.provider.Snapshots("i1"), 4)
	assert.Len(t, f.provider.Snapshots("i2"), 1)

	assert.Equal(t, 2, report.Instances)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Evicted)
	assert.Equal(t, 0, report.Failed)
	assert.False(t, report.Interrupted)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "20261017-030000.000", report.Timestamp)
	require.Len(t, report.Results, 2)

	assert.Equal(t, rotation.OutcomeEvictedCreated, report.Results[0].Outcome)
	assert.Equal(t, "i1-old-0", report.Results[0].Evicted[0].ID)
	assert.Equal(t, rotation.OutcomeCreateOnly, report.Results[1].Outcome)
	assert.Equal(t, "web-vc2-ewr_20261017-030000.000", report.Results[0].Description)
	assert.Equal(t, "db-vc2-ewr_20261017-030000.000", report.Results[1].Description)

	_, statErr := os.Stat(filepath.Join(f.dir, "snapkeep.lock"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "lock released after the run")
	assert.Equal(t, ExitOK, ExitCode(report, err, ExitStrict))
}

func TestRunOnce_CreateFailureDoesNotBlockNextInstance(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i3"})
	f.provider.AddInstance(types.Instance{ID: "i4"})
	f.provider.FailOn(memory.OpCreate, "i3", types.NewCreateFailedError("i3", "snapshot quota exceeded", nil))

	report, err := f.orchestrator(t, nil, Options{}).RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Failed())
	assert.ErrorIs(t, report.Results[0].Err, types.ErrCreateFailed)
	assert.False(t, report.Results[1].Failed())
	assert.Len(t, f.provider.Snapshots("i4"), 1)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, "i3", report.Failures()[0].InstanceID)
	assert.Equal(t, telemetry.RunStatusPartial, report.Status())

	assert.Equal(t, ExitOK, ExitCode(report, err, ExitLenient))
	assert.Equal(t, ExitFailures, ExitCode(report, err, ExitStrict))

	var failure map[string]any
	for _, entry := range f.records(t) {
		if entry["message"] == "rotation failed" {
			failure = entry
		}
	}
	require.NotNil(t, failure, "failure logged")
	assert.Equal(t, "i3", failure["instance_id"])
	assert.Equal(t, "create", failure["step"])
	assert.Equal(t, report.RunID, failure["run_id"])
	assert.Contains(t, failure["error"], "snapshot quota exceeded")
}

func TestRunOnce_LockHeld(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1"})

	lease, err := f.locker.Acquire(context.Background())
	require.NoError(t, err)
	lockPath := filepath.Join(f.dir, "snapkeep.lock")
	before, err := os.ReadFile(lockPath)
	require.NoError(t, err)

	orch := f.orchestrator(t, nil, Options{})
	report, err := orch.RunOnce(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, ExitFatal, ExitCode(report, err, ExitLenient))

	after, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "held lock untouched")
	assert.Equal(t, 0, f.provider.Calls(memory.OpListInstances))
	assert.Empty(t, f.provider.Snapshots("i1"))

	require.NoError(t, lease.Release(context.Background()))
	_, err = orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.provider.Snapshots("i1"), 1)
}

func TestRunOnce_DryRun(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1"}, snapshots("i1", 4)...)

	report, err := f.orchestrator(t, nil, Options{DryRun: true}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 0, f.provider.Calls(memory.OpCreate))
	assert.Equal(t, 0, f.provider.Calls(memory.OpDelete))
	assert.Len(t, f.provider.Snapshots("i1"), 4)

	require.Len(t, report.Results, 1)
	actions := report.Results[0].Actions
	require.Len(t, actions, 2)
	assert.Equal(t, "would delete i1-old-0", actions[0].String())
	assert.False(t, actions[1].Executed)
}

func TestRunOnce_CompactsLogBeforeWriting(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 600; i++ {
		_, err := fmt.Fprintf(f.store, `{"seed":%d}`+"\n", i)
		require.NoError(t, err)
	}
	f.provider.AddInstance(types.Instance{ID: "i1"})

	report, err := f.orchestrator(t, nil, Options{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, report.Compacted)

	recs, err := f.store.Tail(-1)
	require.NoError(t, err)
	assert.Equal(t, `{"seed":100}`, string(recs[0].Data))
	assert.Greater(t, len(recs), 500, "run records appended after compaction")

	last := f.records(t)
	assert.Equal(t, "run complete", last[len(last)-1]["message"])
}

func TestRunOnce_EnumerationFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1"})
	f.provider.FailOn(memory.OpListInstances, "", types.NewTransportError("list instances", "", errors.New("connection refused")))

	report, err := f.orchestrator(t, nil, Options{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Equal(t, ExitFatal, ExitCode(report, err, ExitLenient))
	assert.Equal(t, 0, f.provider.Calls(memory.OpCreate))

	_, statErr := os.Stat(filepath.Join(f.dir, "snapkeep.lock"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "lock released on failure")
}

func TestRunOnce_CancelledContextInterrupts(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1"})
	f.provider.AddInstance(types.Instance{ID: "i2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orchestrator(t, nil, Options{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Empty(t, report.Results)
	assert.Equal(t, telemetry.RunStatusInterrupted, report.Status())
	assert.Equal(t, ExitFatal, ExitCode(report, err, ExitLenient))

	_, statErr := os.Stat(filepath.Join(f.dir, "snapkeep.lock"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

// panickingClient panics on create while armed
type panickingClient struct {
	*memory.Provider
	armed bool
}

func (c *panickingClient) CreateSnapshot(ctx context.Context, instanceID, description string) (*types.Snapshot, error) {
	if c.armed {
		panic("create blew up")
	}
	return c.Provider.CreateSnapshot(ctx, instanceID, description)
}

func TestRunOnce_ReleasesLockOnPanic(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1"})
	client := &panickingClient{Provider: f.provider, armed: true}

	resolver, err := limits.NewResolver(limits.DefaultLimit, nil)
	require.NoError(t, err)
	orch := NewOrchestrator(client, resolver, f.locker, f.store, Options{}).
		WithClock(func() time.Time { return runTime })

	assert.PanicsWithValue(t, "create blew up", func() {
		_, _ = orch.RunOnce(context.Background())
	})

	_, statErr := os.Stat(filepath.Join(f.dir, "snapkeep.lock"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "lock released after panic")

	client.armed = false
	report, err := orch.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Len(t, f.provider.Snapshots("i1"), 1)
}

type recordingNotifier struct {
	reports []*RunReport
}

func (n *recordingNotifier) Notify(_ context.Context, report *RunReport) error {
	n.reports = append(n.reports, report)
	return nil
}

func TestRunOnce_NotifiesReport(t *testing.T) {
	f := newFixture(t)
	f.provider.AddInstance(types.Instance{ID: "i1"})
	notifier := &recordingNotifier{}

	report, err := f.orchestrator(t, nil, Options{}).WithNotifier(notifier).RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, notifier.reports, 1)
	assert.Same(t, report, notifier.reports[0])
	assert.False(t, notifier.reports[0].FinishedAt.IsZero())
}

func TestRunOnce_SharedTimestampAcrossInstances(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.provider.AddInstance(types.Instance{ID: fmt.Sprintf("i%d", i)})
	}

	report, err := f.orchestrator(t, nil, Options{}).RunOnce(context.Background())
	require.NoError(t, err)
	for _, res := range report.Results {
		assert.True(t, strings.HasSuffix(res.Description, "_"+report.Timestamp))
	}
}

func TestParseExitPolicy(t *testing.T) {
	policy, err := ParseExitPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ExitLenient, policy)

	policy, err = ParseExitPolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, ExitStrict, policy)

	_, err = ParseExitPolicy("panic")
	assert.ErrorIs(t, err, types.ErrConfig)
}
