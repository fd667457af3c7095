package logstore

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxLineSize bounds a single record when reading the file back
const maxLineSize = 1 << 20

// FileStore keeps records as newline-terminated lines in one file
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenFile creates or opens the log file in append mode
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, file: file}, nil
}

func openAppend(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304 -- operator configured path
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Path returns the file location
func (s *FileStore) Path() string { return s.path }

// Write appends p as one record and syncs it to disk
func (s *FileStore) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := p
	if !bytes.HasSuffix(line, []byte("\n")) {
		line = append(append(make([]byte, 0, len(p)+1), p...), '\n')
	}
	if _, err := s.file.Write(line); err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync log: %w", err)
	}
	return len(p), nil
}

// Compact rewrites the file with only the last max lines. The rewrite goes
// through a temp file and rename so a crash leaves either the old or the
// new log, never a truncated one.
func (s *FileStore) Compact(max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return 0, err
	}
	if max < 0 {
		max = 0
	}
	if len(lines) <= max {
		return 0, nil
	}
	removed := len(lines) - max
	keep := lines[removed:]

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".compact-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create compaction file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	w := bufio.NewWriter(tmp)
	for _, line := range keep {
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("failed to write compacted log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("failed to sync compacted log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, err
	}

	if err := s.file.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("failed to close log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		s.file, _ = openAppend(s.path)
		return 0, fmt.Errorf("failed to replace log: %w", err)
	}

	file, err := openAppend(s.path)
	if err != nil {
		return 0, err
	}
	s.file = file
	return removed, nil
}

// Tail returns the last n records
func (s *FileStore) Tail(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	start := 0
	if n >= 0 && len(lines) > n {
		start = len(lines) - n
	}

	records := make([]Record, 0, len(lines)-start)
	for i := start; i < len(lines); i++ {
		records = append(records, Record{Sequence: int64(i + 1), Data: lines[i]})
	}
	return records, nil
}

// Len counts records
func (s *FileStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	return len(lines), err
}

// Close closes the file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// readLines loads every non-empty line. Caller holds s.mu.
func (s *FileStore) readLines() ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return lines, nil
}
