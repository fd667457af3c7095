package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationError_IsBothKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewCreateFailedError("i-1", "HTTP 500", NewTransportError("POST /snapshots", "", cause))

	assert.True(t, errors.Is(err, ErrCreateFailed))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrDeleteFailed))
	assert.Contains(t, err.Error(), "i-1")
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("get instance", "ghost")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "get instance ghost: not found", err.Error())
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"config", NewConfigError("default_limit", "must be >= 0"), true},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("", "bad")), true},
		{"already running", &AlreadyRunningError{Lock: "/tmp/x.lock"}, true},
		{"transport", NewTransportError("list instances", "", errors.New("eof")), false},
		{"delete", NewDeleteFailedError("snap-1", "404", nil), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestAlreadyRunningError_Message(t *testing.T) {
	since := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)
	err := &AlreadyRunningError{Lock: "snapkeep.lock", Holder: "pid 42", Since: since}

	assert.Equal(t, "run lock snapkeep.lock is held by pid 42 since 2026-10-17T03:00:00Z", err.Error())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
