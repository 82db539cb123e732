// Package queue implements the bounded FIFO scheduler fronting the
// worker pool (spec.md §4.10): a buffered channel of fixed capacity,
// with a mutex-guarded receiver so at most one worker ever claims a
// given job.
package queue

import (
	"sync"

	"github.com/relaygate/core/internal/engine/engerr"
	"github.com/relaygate/core/internal/engine/metrics"
	"github.com/relaygate/core/internal/engine/models"
)

// Queue is the bounded channel scheduler.
type Queue struct {
	jobs    chan models.QueuedJob
	metrics *metrics.Metrics

	recvMu sync.Mutex

	stateMu sync.Mutex
	closed  bool
}

// New builds a Queue with the given capacity.
func New(capacity int, m *metrics.Metrics) *Queue {
	return &Queue{jobs: make(chan models.QueuedJob, capacity), metrics: m}
}

// Submit enqueues a job, returning engerr.CodeQueueFull if the channel
// is full or closed (spec.md §4.10).
func (q *Queue) Submit(job models.QueuedJob) error {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if q.closed {
		return engerr.New(engerr.CodeQueueFull, "scheduler is shutting down")
	}

	select {
	case q.jobs <- job:
		q.metrics.Submit()
		return nil
	default:
		return engerr.New(engerr.CodeQueueFull, "execution queue is full")
	}
}

// Receive claims the next job under the shared receiver lock (spec.md
// §4.10 step 1, §5's "shared queue receiver protected by a mutex").
// It blocks until a job arrives or the queue is closed, in which case
// ok is false.
func (q *Queue) Receive() (models.QueuedJob, bool) {
	q.recvMu.Lock()
	defer q.recvMu.Unlock()
	job, ok := <-q.jobs
	return job, ok
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.closed
}

// Close stops accepting new submissions and unblocks every worker
// waiting in Receive once drained.
func (q *Queue) Close() {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}
