// Package history persists completed-run records after a DAG has been
// unblocked — never in-flight queue state, which spec.md's Non-goals
// explicitly keep out of scope for cross-restart recovery. It exists purely
// for after-the-fact inspection (latency, error rate per device, audit).
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// Record is one completed DAG run, written once, after UnblockClient has
// already been called.
type Record struct {
	RunID     string    `json:"run_id"`
	Device    string    `json:"device"`
	Errored   bool      `json:"errored"`
	Batched   bool      `json:"batched"`
	BatchSize int       `json:"batch_size"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store is a bbolt-backed append-only log of Records, keyed by an
// auto-incrementing sequence so iteration order matches completion order.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and ensures the
// runs bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error { return s.db.Close() }

// Append writes one completed-run record.
func (s *Store) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Recent returns up to limit of the most recently appended records, newest
// first.
func (s *Store) Recent(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("history: unmarshal record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
