package types

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Fatal categories abort a run before any instance is
// touched; the rest are scoped to a single instance.
var (
	ErrConfig         = errors.New("configuration error")
	ErrAlreadyRunning = errors.New("another run is already in progress")
	ErrTransport      = errors.New("transport error")
	ErrNotFound       = errors.New("not found")
	ErrCreateFailed   = errors.New("snapshot create failed")
	ErrDeleteFailed   = errors.New("snapshot delete failed")
)

// OperationError describes a failed remote call
type OperationError struct {
	Kind       error
	Op         string
	ResourceID string
	Detail     string
	Err        error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.ResourceID != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Op, e.ResourceID, e.Kind)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the category and the underlying cause to errors.Is
func (e *OperationError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewTransportError wraps a network or authentication failure
func NewTransportError(op, resourceID string, err error) error {
	return &OperationError{Kind: ErrTransport, Op: op, ResourceID: resourceID, Err: err}
}

// NewNotFoundError reports a missing instance or snapshot
func NewNotFoundError(op, resourceID string) error {
	return &OperationError{Kind: ErrNotFound, Op: op, ResourceID: resourceID}
}

// NewCreateFailedError reports a rejected create, with the provider's detail
func NewCreateFailedError(instanceID, detail string, err error) error {
	return &OperationError{Kind: ErrCreateFailed, Op: "create snapshot", ResourceID: instanceID, Detail: detail, Err: err}
}

// NewDeleteFailedError reports a rejected delete, with the provider's detail
func NewDeleteFailedError(snapshotID, detail string, err error) error {
	return &OperationError{Kind: ErrDeleteFailed, Op: "delete snapshot", ResourceID: snapshotID, Detail: detail, Err: err}
}

// ConfigError reports bad or missing configuration
type ConfigError struct {
	Field string
	Err   error
}

// NewConfigError builds a ConfigError with a formatted message
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfig, e.Err} }

// AlreadyRunningError is returned when the run lock is held
type AlreadyRunningError struct {
	Lock   string
	Holder string
	Since  time.Time
}

func (e *AlreadyRunningError) Error() string {
	msg := fmt.Sprintf("run lock %s is held", e.Lock)
	if e.Holder != "" {
		msg += " by " + e.Holder
	}
	if !e.Since.IsZero() {
		msg += " since " + e.Since.UTC().Format(time.RFC3339)
	}
	return msg
}

func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// IsFatal reports whether err aborts a whole run rather than one instance
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrAlreadyRunning)
}
