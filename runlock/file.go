package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileLocker is an exclusive marker file created with O_EXCL
type FileLocker struct {
	path string
}

// NewFileLocker creates a locker for path. The parent directory is created
// on Acquire.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path}
}

// Name returns the lock path
func (l *FileLocker) Name() string { return l.path }

// Acquire atomically creates the marker file
func (l *FileLocker) Acquire(ctx context.Context) (Lease, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, alreadyRunning(l.path, l.readHolder())
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	holder := newHolder()
	data, _ := json.Marshal(holder)
	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(l.path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &fileLease{path: l.path, holder: holder}, nil
}

// readHolder returns the recorded holder, or nil if unreadable
func (l *FileLocker) readHolder() *Holder {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil
	}
	return &h
}

type fileLease struct {
	path   string
	holder Holder
	once   sync.Once
	err    error
}

func (l *fileLease) Token() string { return l.holder.Token }

func (l *fileLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.err = fmt.Errorf("remove lock file: %w", err)
		}
	})
	return l.err
}
