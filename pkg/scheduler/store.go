// Package scheduler implements the persistent task-record subsystem
// (§4.6b): durable cron and one-shot records backed by bbolt, polled by a
// daemon that invokes the target object through the runtime.
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/stationrt/station/pkg/types"
)

var tasksBucket = []byte("tasks")

// Store is the bbolt-backed durable task record table.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tasksBucket)
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

// Create assigns a task_id if one was not supplied and persists the record
// with status active.
func (s *Store) Create(rec types.TaskRecord) (types.TaskRecord, error) {
	if rec.TaskID == "" {
		rec.TaskID = uuid.NewString()
	}
	if rec.MaxAttempts <= 0 {
		rec.MaxAttempts = 3
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = float64(time.Now().UnixNano()) / 1e9
	}
	rec.Status = types.TaskStatusActive
	return rec, s.put(rec)
}

func (s *Store) put(rec types.TaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).Put([]byte(rec.TaskID), data)
	})
}

func (s *Store) Get(taskID string) (types.TaskRecord, error) {
	var rec types.TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(tasksBucket).Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("task %s not found", taskID)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

func (s *Store) List() ([]types.TaskRecord, error) {
	var out []types.TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).ForEach(func(k, v []byte) error {
			var rec types.TaskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *Store) Update(rec types.TaskRecord) error {
	return s.put(rec)
}

func (s *Store) Cancel(taskID string) error {
	rec, err := s.Get(taskID)
	if err != nil {
		return err
	}
	rec.Status = types.TaskStatusCancelled
	return s.put(rec)
}

func (s *Store) Delete(taskID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).Delete([]byte(taskID))
	})
}
