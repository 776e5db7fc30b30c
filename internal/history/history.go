// Package history keeps the summaries of past runs in a bbolt file.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/stampede/internal/performance/output"
)

const (
	bucketRuns  = "runs"
	bucketIndex = "index"
)

// ErrNotFound is returned by Get when no run matches.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned by Get when a prefix matches several runs.
var ErrAmbiguous = errors.New("run id prefix is ambiguous")

// Item is one stored run.
type Item struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	StartTime time.Time      `json:"startTime"`
	Passed    bool           `json:"passed"`
	ExitCode  int            `json:"exitCode"`
	Report    *output.Report `json:"report"`
}

// Store is a run history backed by a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the file.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders runs by start time.
func runKey(item *Item) []byte {
	return []byte(item.StartTime.UTC().Format("20060102T150405.000000000") + "/" + item.ID)
}

// Save stores the report of a run under its run id.
func (s *Store) Save(report *output.Report) error {
	if report.RunID == "" {
		return errors.New("report has no run id")
	}
	item := &Item{
		ID:        report.RunID,
		Name:      report.Name,
		StartTime: report.StartTime,
		Passed:    report.Passed,
		ExitCode:  report.ExitCode,
		Report:    report,
	}

	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(bucketIndex))
		key := runKey(item)
		if old := index.Get([]byte(item.ID)); old != nil {
			if err := tx.Bucket([]byte(bucketRuns)).Delete(old); err != nil {
				return err
			}
		}
		if err := index.Put([]byte(item.ID), key); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketRuns)).Put(key, data)
	})
}

// List returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Item, error) {
	var items []Item

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(items) >= limit {
				break
			}
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("corrupt history entry %s: %w", k, err)
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Get returns the run whose id is id or starts with it.
func (s *Store) Get(id string) (*Item, error) {
	var item Item

	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(id)
		c := tx.Bucket([]byte(bucketIndex)).Cursor()

		var key []byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if key != nil {
				return fmt.Errorf("%w: %s", ErrAmbiguous, id)
			}
			key = v
			if bytes.Equal(k, prefix) {
				break
			}
		}
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		data := tx.Bucket([]byte(bucketRuns)).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
