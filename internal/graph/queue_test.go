package graph

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(id string) job {
	return job{task: &Task{Spec: TaskSpec{ID: id}}}
}

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(testJob(id)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, j.task.Spec.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestJobQueue_EnqueueAfterClose(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(testJob("A"))
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(testJob("B")))
	j, ok := q.TryDequeue()
	require.True(t, ok, "queued jobs survive close")
	assert.Equal(t, "A", j.task.Spec.ID)

	_, open := <-q.Wait()
	assert.False(t, open, "wait channel is closed")
}

func TestJobQueue_WakesEveryWaiter(t *testing.T) {
	q := newJobQueue()
	const workers = 4

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if j, ok := q.TryDequeue(); ok {
					mu.Lock()
					got = append(got, j.task.Spec.ID)
					mu.Unlock()
					continue
				}
				if _, open := <-q.Wait(); !open {
					return
				}
			}
		}()
	}

	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		q.Enqueue(testJob(id))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 6
	}, time.Second, 5*time.Millisecond)

	q.Close()
	wg.Wait()
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E", "F"}, got)
}
