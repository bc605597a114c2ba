package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const (
	BucketRuns = "runs"
	BucketIDs  = "ids"

	// MaxItems is how many runs Save keeps.
	MaxItems = 100
)

var ErrNotFound = errors.New("history item not found")

// Store persists run history in a bbolt file. Runs are keyed by start
// time so a reverse cursor walk lists the newest first.
type Store struct {
	db       *bbolt.DB
	filePath string
}

// DefaultPath is ~/.steadytls/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".steadytls", "history.db"), nil
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIDs} {
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

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string { return s.filePath }

func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(item HistoryItem) []byte {
	return []byte(fmt.Sprintf("%020d-%s", item.Timestamp.UnixNano(), item.ID))
}

// Save stores item and drops the oldest runs beyond MaxItems.
func (s *Store) Save(item HistoryItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		ids := tx.Bucket([]byte(BucketIDs))

		key := runKey(item)
		if old := ids.Get([]byte(item.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}
		if err := runs.Put(key, data); err != nil {
			return err
		}
		if err := ids.Put([]byte(item.ID), key); err != nil {
			return err
		}
		return prune(runs, ids, MaxItems)
	})
}

func prune(runs, ids *bbolt.Bucket, keep int) error {
	c := runs.Cursor()
	n := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	excess := n - keep
	if excess <= 0 {
		return nil
	}
	var stale [][]byte
	for k, v := c.First(); k != nil && len(stale) < excess; k, v = c.Next() {
		var item HistoryItem
		if err := json.Unmarshal(v, &item); err == nil {
			if err := ids.Delete([]byte(item.ID)); err != nil {
				return err
			}
		}
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := runs.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// List returns every stored run, newest first. Undecodable entries are
// skipped.
func (s *Store) List() ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				log.WithError(err).WithField("key", string(k)).Warn("Skipping corrupt history entry")
				continue
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(BucketIDs)).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket([]byte(BucketIDs))
		key := ids.Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		if err := tx.Bucket([]byte(BucketRuns)).Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}
