// Package logstore is the durable, append-only run log. Records are whole
// lines written by the logger; the store keeps them in order and is
// compacted to the most recent N at the start of every run.
package logstore

import (
	"fmt"
	"io"
	"path/filepath"
)

// DefaultMaxEntries is the retention bound applied by Compact
const DefaultMaxEntries = 500

// Backend names a Store implementation
type Backend string

const (
	BackendFile Backend = "file"
	BackendBolt Backend = "bolt"
)

// Record is one stored log line
type Record struct {
	Sequence int64  `json:"sequence"`
	Data     []byte `json:"data"`
}

// Store is an append-only sequence of records. Each Write call appends one
// record; zerolog issues exactly one Write per event.
type Store interface {
	io.Writer
	// Compact drops the oldest records so at most max remain and returns
	// how many were removed.
	Compact(max int) (int, error)
	// Tail returns up to n most recent records, oldest first.
	Tail(n int) ([]Record, error)
	Len() (int, error)
	Close() error
}

// Config selects and locates a Store
type Config struct {
	Backend Backend
	Path    string
}

// Open opens the configured backend
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return OpenFile(cfg.Path)
	case BackendBolt:
		return OpenBolt(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

// DefaultPath returns the store path inside a state directory
func DefaultPath(stateDir string, backend Backend) string {
	if backend == BackendBolt {
		return filepath.Join(stateDir, "snapkeep-log.db")
	}
	return filepath.Join(stateDir, "snapkeep.log")
}
