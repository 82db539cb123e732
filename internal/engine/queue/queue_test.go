package queue

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/core/internal/engine/metrics"
	"github.com/relaygate/core/internal/engine/models"
)

func newTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return New(capacity, m)
}

func TestQueue_SubmitAndReceiveRoundTrip(t *testing.T) {
	// Given a queue with room for one job
	q := newTestQueue(t, 1)

	// When a job is submitted
	err := q.Submit(models.QueuedJob{ID: "job-1"})
	require.NoError(t, err)

	// Then it is received back
	job, ok := q.Receive()
	require.True(t, ok)
	assert.Equal(t, "job-1", job.ID)
}

func TestQueue_SubmitFailsWhenFull(t *testing.T) {
	// Given a queue at capacity
	q := newTestQueue(t, 1)
	require.NoError(t, q.Submit(models.QueuedJob{ID: "first"}))

	// When another job is submitted
	err := q.Submit(models.QueuedJob{ID: "second"})

	// Then it is rejected
	assert.Error(t, err)
}

func TestQueue_EachJobClaimedExactlyOnce(t *testing.T) {
	// Given a queue with several jobs and multiple concurrent receivers
	q := newTestQueue(t, 10)
	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, q.Submit(models.QueuedJob{ID: string(rune('a' + i))}))
	}
	q.Close()

	var mu sync.Mutex
	claimed := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := q.Receive()
				if !ok {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Then every job was claimed by exactly one worker
	assert.Len(t, claimed, n)
	for _, count := range claimed {
		assert.Equal(t, 1, count)
	}
}

func TestQueue_SubmitFailsAfterClose(t *testing.T) {
	// Given a closed queue
	q := newTestQueue(t, 4)
	q.Close()

	// When a job is submitted
	err := q.Submit(models.QueuedJob{ID: "late"})

	// Then it is rejected
	assert.Error(t, err)
}
