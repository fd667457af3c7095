package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yairfalse/snapkeep/orchestrator"
)

// LastRunFile is the state file name inside the state directory
const LastRunFile = "last-run.json"

// StateFileEmitter writes the most recent report as JSON so that
// `snapkeep status` can read it without touching the provider.
type StateFileEmitter struct {
	path string
}

// NewStateFileEmitter writes to path
func NewStateFileEmitter(path string) *StateFileEmitter {
	return &StateFileEmitter{path: path}
}

// Notify replaces the state file atomically
func (e *StateFileEmitter) Notify(_ context.Context, report *orchestrator.RunReport) error {
	if report == nil {
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".last-run-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (e *StateFileEmitter) Close() error {
	return nil
}

// ReadLastRun loads the report written by StateFileEmitter
func ReadLastRun(path string) (*orchestrator.RunReport, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, err
	}

	var report orchestrator.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &report, nil
}
