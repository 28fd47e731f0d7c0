package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a job id has no record
var ErrNotFound = errors.New("not found")

var (
	// Bucket names
	bucketJobs = []byte("jobs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "monagent.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketJobs, err)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveJobRecord stores a record, replacing any record with the same job id.
// Return values are stored as JSON and read back as generic values.
func (s *BoltStore) SaveJobRecord(record *JobRecord) error {
	if record.Result.JID == "" {
		return errors.New("job record has no job id")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(err, "encode job %s", record.Result.JID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(record.Result.JID), data)
	})
}

func (s *BoltStore) GetJobRecord(jid string) (*JobRecord, error) {
	var record JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(jid))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "job %s", jid)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListJobRecords returns every record, most recent first
func (s *BoltStore) ListJobRecords() ([]*JobRecord, error) {
	var records []*JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var record JobRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return errors.Wrapf(err, "decode job %s", k)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CompletedAt.Equal(records[j].CompletedAt) {
			return records[i].Result.JID < records[j].Result.JID
		}
		return records[i].CompletedAt.After(records[j].CompletedAt)
	})
	return records, nil
}

func (s *BoltStore) DeleteJobRecord(jid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(jid))
	})
}

func (s *BoltStore) PruneJobRecords(keep int) (int, error) {
	var count int
	if err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketJobs).Stats().KeyN
		return nil
	}); err != nil {
		return 0, err
	}
	if count <= keep {
		return 0, nil
	}

	records, err := s.ListJobRecords()
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}

	stale := records[keep:]
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		for _, record := range stale {
			if err := b.Delete([]byte(record.Result.JID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
