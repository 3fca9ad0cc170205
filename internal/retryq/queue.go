// Package retryq persists pipeline steps that failed against a
// recoverable backend so they can be replayed later. Storage writes are
// never queued here; only post-storage steps (analysis, indexing) are
// retryable without risking data loss.
package retryq

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	pendingBucket = "pending"
	deadBucket    = "dead"

	defaultMaxAttempts = 5
	baseBackoff        = 30 * time.Second
	maxBackoff         = 30 * time.Minute
)

// Step names a retryable pipeline stage.
type Step string

const (
	StepAnalyze Step = "analyze"
	StepIndex   Step = "index"
)

// Task is one deferred unit of work keyed by the commit it belongs to.
type Task struct {
	ID          string    `json:"id"`
	CommitID    string    `json:"commit_id"`
	Repository  string    `json:"repository"`
	Step        Step      `json:"step"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	NextAttempt time.Time `json:"next_attempt"`
}

// Queue is a durable retry queue backed by a local bbolt file.
type Queue struct {
	db          *bolt.DB
	logger      *logrus.Logger
	maxAttempts int
}

// Open creates or reopens the queue file at path.
func Open(path string, logger *logrus.Logger) (*Queue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening retry queue: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{pendingBucket, deadBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing retry queue: %w", err)
	}
	return &Queue{db: db, logger: logger, maxAttempts: defaultMaxAttempts}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue records a failed step for later replay. A step already queued
// for the same commit is replaced, so repeated failures do not pile up.
func (q *Queue) Enqueue(commitID, repository string, step Step, cause error) error {
	task := Task{
		ID:          uuid.NewString(),
		CommitID:    commitID,
		Repository:  repository,
		Step:        step,
		Attempts:    1,
		EnqueuedAt:  time.Now().UTC(),
		NextAttempt: time.Now().UTC().Add(baseBackoff),
	}
	if cause != nil {
		task.LastError = cause.Error()
	}
	err := q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(pendingBucket))
		if existing := bucket.Get(taskKey(commitID, step)); existing != nil {
			var prev Task
			if err := json.Unmarshal(existing, &prev); err == nil {
				task.ID = prev.ID
				task.Attempts = prev.Attempts + 1
				task.EnqueuedAt = prev.EnqueuedAt
				task.NextAttempt = time.Now().UTC().Add(backoff(task.Attempts))
			}
		}
		if task.Attempts > q.maxAttempts {
			if err := bucket.Delete(taskKey(commitID, step)); err != nil {
				return err
			}
			return q.bury(tx, task)
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return bucket.Put(taskKey(commitID, step), data)
	})
	if err != nil {
		return fmt.Errorf("enqueueing retry task: %w", err)
	}
	q.logger.WithFields(logrus.Fields{
		"commit_id": commitID,
		"step":      step,
		"attempts":  task.Attempts,
	}).Warn("Pipeline step queued for retry")
	return nil
}

// Due returns tasks whose backoff has elapsed, oldest first.
func (q *Queue) Due(now time.Time) ([]Task, error) {
	var due []Task
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(_, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if !task.NextAttempt.After(now) {
				due = append(due, task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing due retry tasks: %w", err)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EnqueuedAt.Before(due[j].EnqueuedAt) })
	return due, nil
}

// Pending reports how many tasks are waiting, regardless of backoff.
func (q *Queue) Pending() (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(pendingBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Ack removes a task after its step finally succeeded.
func (q *Queue) Ack(task Task) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete(taskKey(task.CommitID, task.Step))
	})
}

// Fail pushes the task's next attempt further out, or buries it once
// the attempt budget is spent.
func (q *Queue) Fail(task Task, cause error) error {
	task.Attempts++
	task.NextAttempt = time.Now().UTC().Add(backoff(task.Attempts))
	if cause != nil {
		task.LastError = cause.Error()
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(pendingBucket))
		if task.Attempts > q.maxAttempts {
			if err := bucket.Delete(taskKey(task.CommitID, task.Step)); err != nil {
				return err
			}
			return q.bury(tx, task)
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return bucket.Put(taskKey(task.CommitID, task.Step), data)
	})
}

// Dead returns tasks that exhausted their retries.
func (q *Queue) Dead() ([]Task, error) {
	var dead []Task
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(deadBucket)).ForEach(func(_, v []byte) error {
			var task Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			dead = append(dead, task)
			return nil
		})
	})
	return dead, err
}

func (q *Queue) bury(tx *bolt.Tx, task Task) error {
	q.logger.WithFields(logrus.Fields{
		"commit_id": task.CommitID,
		"step":      task.Step,
		"attempts":  task.Attempts,
	}).Error("Retry budget exhausted, task moved to dead letter bucket")
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(deadBucket)).Put(taskKey(task.CommitID, task.Step), data)
}

func taskKey(commitID string, step Step) []byte {
	return []byte(commitID + "/" + string(step))
}

func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
