// Package storage keeps a persistent history of completed runs so results
// can be compared across sessions.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/bbolt"

	"wsstress/internal/config"
	"wsstress/internal/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const bucketRuns = "runs"

// HistoryItem is one persisted run.
type HistoryItem struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Target    string            `json:"target"`
	Config    *config.Config    `json:"config"`
	Summary   *stats.RunSummary `json:"summary"`
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath is ~/.wsstress/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".wsstress")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(item HistoryItem) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))

		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		// Keys sort chronologically so List can walk newest-first.
		key := []byte(fmt.Sprintf("%020d_%s", item.Timestamp.UnixNano(), item.ID))
		return b.Put(key, data)
	})
}

// List returns stored runs, newest first.
func (s *Store) List() []HistoryItem {
	var items []HistoryItem

	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err == nil {
				items = append(items, item)
			}
		}
		return nil
	})
	return items
}

// Get returns the run with the given ID.
func (s *Store) Get(id string) (*HistoryItem, error) {
	var found *HistoryItem
	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		return b.ForEach(func(k, v []byte) error {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err == nil && item.ID == id {
				found = &item
			}
			return nil
		})
	})
	if found == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return found, nil
}
