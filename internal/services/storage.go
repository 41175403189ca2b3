package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	bolt "go.etcd.io/bbolt"
)

const (
	jobsBucket  = "jobs"
	indexBucket = "index"

	// Fixed-width timestamp so byte-lexical bbolt order matches chronological
	// order. RFC3339Nano drops trailing zeros and breaks that.
	jobKeyTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// storage is the bbolt-backed audit log of finished pipeline runs. Write-only
// from the pipeline's perspective; the jobs endpoint reads it for humans.
type storage struct {
	db     *bolt.DB
	config *common.StorageConfig
}

func NewStorage(config *common.StorageConfig) (interfaces.OutcomeStore, error) {
	dbDir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(config.DatabasePath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(jobsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(indexBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &storage{
		db:     db,
		config: config,
	}, nil
}

func (s *storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveOutcome records a finished run. Keys are time-prefixed so a cursor scan
// returns runs in chronological order.
func (s *storage) SaveOutcome(outcome *models.JobOutcome) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome %s: %w", outcome.JobID, err)
		}

		bucket := tx.Bucket([]byte(jobsBucket))
		key := []byte(fmt.Sprintf("%s:%s", outcome.FinishedAt.UTC().Format(jobKeyTimeFormat), outcome.JobID))
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save outcome %s: %w", outcome.JobID, err)
		}

		index := tx.Bucket([]byte(indexBucket))
		return index.Put([]byte(outcome.JobID), key)
	})
}

func (s *storage) LoadOutcome(jobID string) (*models.JobOutcome, error) {
	var outcome *models.JobOutcome

	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket([]byte(indexBucket))
		key := index.Get([]byte(jobID))
		if key == nil {
			return nil
		}

		data := tx.Bucket([]byte(jobsBucket)).Get(key)
		if data == nil {
			return nil
		}

		var decoded models.JobOutcome
		if err := json.Unmarshal(data, &decoded); err != nil {
			return fmt.Errorf("failed to decode outcome %s: %w", jobID, err)
		}
		outcome = &decoded
		return nil
	})

	return outcome, err
}

// LoadRecentOutcomes returns up to limit outcomes, newest first.
func (s *storage) LoadRecentOutcomes(limit int) ([]*models.JobOutcome, error) {
	outcomes := make([]*models.JobOutcome, 0, limit)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(jobsBucket)).Cursor()

		for k, v := c.Last(); k != nil && len(outcomes) < limit; k, v = c.Prev() {
			var outcome models.JobOutcome
			if err := json.Unmarshal(v, &outcome); err != nil {
				continue
			}
			outcomes = append(outcomes, &outcome)
		}

		return nil
	})

	return outcomes, err
}
