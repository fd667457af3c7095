// Package runlock provides the process-wide exclusion token held for the
// duration of one run. Acquisition is test-and-set: a held lock fails
// immediately with types.AlreadyRunningError, never waits.
package runlock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/snapkeep/types"
)

// Locker acquires the run lock
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
	Name() string
}

// Lease is a held lock. Release must be safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
	Token() string
}

// Holder describes who holds a lock. It is informational only: the
// presence of the lock is the sole exclusion signal.
type Holder struct {
	Token    string    `json:"token"`
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Acquired time.Time `json:"acquired"`
}

func newHolder() Holder {
	host, _ := os.Hostname()
	return Holder{
		Token:    uuid.NewString(),
		PID:      os.Getpid(),
		Hostname: host,
		Acquired: time.Now().UTC(),
	}
}

func (h Holder) String() string {
	if h.Hostname == "" && h.PID == 0 {
		return h.Token
	}
	return fmt.Sprintf("pid %d on %s", h.PID, h.Hostname)
}

func alreadyRunning(name string, h *Holder) error {
	err := &types.AlreadyRunningError{Lock: name}
	if h != nil {
		err.Holder = h.String()
		err.Since = h.Acquired
	}
	return err
}
