// Package emitter publishes finished run reports to outputs beyond the
// run log.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/snapkeep/orchestrator"
)

// Emitter receives every finished report. It satisfies
// orchestrator.Notifier.
type Emitter interface {
	Notify(ctx context.Context, report *orchestrator.RunReport) error
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Notify sends to every emitter and joins their errors. One failing
// backend does not stop the others.
func (m *MultiEmitter) Notify(ctx context.Context, report *orchestrator.RunReport) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
