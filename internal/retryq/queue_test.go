package retryq

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	q, err := Open(filepath.Join(t.TempDir(), "retry.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueAndDue(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue("c1", "org/app", StepIndex, errors.New("index down")))

	due, err := q.Due(time.Now())
	require.NoError(t, err)
	require.Empty(t, due, "backoff should not have elapsed yet")

	due, err = q.Due(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "c1", due[0].CommitID)
	require.Equal(t, StepIndex, due[0].Step)
	require.Equal(t, "index down", due[0].LastError)
}

func TestEnqueueReplacesSameCommitStep(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue("c1", "org/app", StepAnalyze, errors.New("first")))
	require.NoError(t, q.Enqueue("c1", "org/app", StepAnalyze, errors.New("second")))
	// A different step for the same commit is a separate task.
	require.NoError(t, q.Enqueue("c1", "org/app", StepIndex, nil))

	n, err := q.Pending()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	due, err := q.Due(time.Now().Add(24 * time.Hour))
	require.NoError(t, err)
	for _, task := range due {
		if task.Step == StepAnalyze {
			require.Equal(t, 2, task.Attempts)
			require.Equal(t, "second", task.LastError)
		}
	}
}

func TestAckRemoves(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue("c1", "org/app", StepIndex, nil))
	due, err := q.Due(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, q.Ack(due[0]))

	n, err := q.Pending()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFailEventuallyBuries(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue("c1", "org/app", StepAnalyze, errors.New("boom")))
	due, err := q.Due(time.Now().Add(24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)

	task := due[0]
	for i := 0; i < defaultMaxAttempts; i++ {
		require.NoError(t, q.Fail(task, errors.New("still failing")))
		task.Attempts++
	}

	n, err := q.Pending()
	require.NoError(t, err)
	require.Zero(t, n)

	dead, err := q.Dead()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, "c1", dead[0].CommitID)
}

func TestEnqueueEventuallyBuries(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i <= defaultMaxAttempts; i++ {
		require.NoError(t, q.Enqueue("c1", "org/app", StepIndex, errors.New("index down")))
	}

	n, err := q.Pending()
	require.NoError(t, err)
	require.Zero(t, n, "buried task must leave the pending bucket")

	dead, err := q.Dead()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, "c1", dead[0].CommitID)
}

func TestDueOrderedByEnqueueTime(t *testing.T) {
	q := newTestQueue(t)

	// Key order (commit id) is the reverse of enqueue order here.
	require.NoError(t, q.Enqueue("z-commit", "org/app", StepIndex, nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue("a-commit", "org/app", StepIndex, nil))

	due, err := q.Due(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "z-commit", due[0].CommitID)
	require.Equal(t, "a-commit", due[1].CommitID)
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retry.db")
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	q, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue("c1", "org/app", StepIndex, nil))
	require.NoError(t, q.Close())

	q2, err := Open(path, logger)
	require.NoError(t, err)
	defer q2.Close()

	n, err := q2.Pending()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	require.Equal(t, baseBackoff, backoff(1))
	require.Equal(t, 2*baseBackoff, backoff(2))
	require.Equal(t, maxBackoff, backoff(20))
}
