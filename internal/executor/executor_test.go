package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	q := NewBoundedQueue(1, DropNewest)
	block := make(chan struct{})
	require.NoError(t, q.Enqueue(func() { <-block }))
	// queue worker isn't running, so the first task sits unconsumed; queue is
	// now at capacity.
	err := q.Enqueue(func() {})
	assert.ErrorIs(t, err, ErrQueueFull)
	close(block)
}

func TestBoundedQueueRunsTasksInOrder(t *testing.T) {
	q := NewBoundedQueue(16, DropNewest)
	go q.Run()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, q.Enqueue(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestBoundedQueueHighWaterFiresOnce(t *testing.T) {
	q := NewBoundedQueue(4, DropNewest)
	var fires int32
	q.OnHighWater(2, func(depth int) { atomic.AddInt32(&fires, 1) })
	require.NoError(t, q.Enqueue(func() {}))
	require.NoError(t, q.Enqueue(func() {}))
	require.NoError(t, q.Enqueue(func() {}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fires))
}

func TestStripedExecutorPreservesPerKeyOrdering(t *testing.T) {
	e := NewStripedExecutor(4, 64, DropNewest)
	defer e.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, e.Submit("same-key", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()
	for i := 0; i < 20; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestStripedExecutorRoutesSameKeyToSameStripe(t *testing.T) {
	e := NewStripedExecutor(8, 16, DropNewest)
	defer e.Close()
	s1 := e.StripeOf("alpha")
	s2 := e.StripeOf("alpha")
	assert.Equal(t, s1, s2)
}

func TestStripedExecutorParallelAcrossStripes(t *testing.T) {
	e := NewStripedExecutor(4, 16, DropNewest)
	defer e.Close()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		require.NoError(t, e.Submit(key, func() {
			defer wg.Done()
			time.Sleep(50 * time.Millisecond)
		}))
	}
	wg.Wait()
	// four concurrent 50ms tasks across distinct stripes should finish well
	// under four sequential runs.
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
