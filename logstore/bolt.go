package logstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/snapkeep/types"
)

var bucketRecords = []byte("records")

// boltOpenTimeout bounds the wait for bbolt's file lock
var boltOpenTimeout = time.Second

// BoltStore keeps records in a bbolt bucket keyed by a big-endian sequence,
// so cursor order is append order
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: boltOpenTimeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		// bbolt holds an exclusive flock for as long as the database is open
		held := &types.AlreadyRunningError{Lock: path, Holder: "another snapkeep process"}
		return nil, fmt.Errorf("log database is in use, stop the daemon or use the file backend: %w", held)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Write appends p as one record
func (s *BoltStore) Write(p []byte) (int, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(uint64ToBytes(seq), trimNewline(p))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	return len(p), nil
}

// Compact deletes records from the head until at most max remain
func (s *BoltStore) Compact(max int) (int, error) {
	if max < 0 {
		max = 0
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		excess := countKeys(bucket) - max
		if excess <= 0 {
			return nil
		}

		// Collect first: deleting through a live cursor can skip keys
		stale := make([][]byte, 0, excess)
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(stale) < excess; k, _ = cursor.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compact log: %w", err)
	}
	return removed, nil
}

// Tail returns the last n records, oldest first
func (s *BoltStore) Tail(n int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketRecords).Cursor()
		for k, v := cursor.Last(); k != nil && (n < 0 || len(records) < n); k, v = cursor.Prev() {
			records = append(records, Record{
				Sequence: int64(binary.BigEndian.Uint64(k)),
				Data:     append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Len counts records
func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = countKeys(tx.Bucket(bucketRecords))
		return nil
	})
	return n, err
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func countKeys(bucket *bbolt.Bucket) int {
	n := 0
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		n++
	}
	return n
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func trimNewline(p []byte) []byte {
	if n := len(p); n > 0 && p[n-1] == '\n' {
		return p[:n-1]
	}
	return p
}
