package queue

import (
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	stop := make(chan struct{})
	for i := 0; i < 5; i++ {
		v, ok := q.PopBlocking(stop)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	stop := make(chan struct{})
	got := make(chan string, 1)

	go func() {
		v, _ := q.PopBlocking(stop)
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("PopBlocking returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push("hello"))

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken by Push")
	}
}

func TestStopWakesBlockedConsumer(t *testing.T) {
	q := New[int]()
	stop := make(chan struct{})
	done := make(chan bool, 1)

	go func() {
		_, ok := q.PopBlocking(stop)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken by stop")
	}
}

func TestStopDrainsQueuedItems(t *testing.T) {
	q := New[int]()
	stop := make(chan struct{})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(i))
	}
	close(stop)

	var got []int
	for {
		v, ok := q.PopBlocking(stop)
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestCloseRejectsPush(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	q.Close()

	err := q.Push(2)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Equal(t, []int{1}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestConcurrentProducersNoLoss(t *testing.T) {
	const producers, perProducer = 20, 200
	q := New[int]()
	stop := make(chan struct{})

	var wg gosync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	lastPerProducer := make(map[int]int)
	for len(seen) < producers*perProducer {
		v, ok := q.PopBlocking(stop)
		require.True(t, ok)
		require.False(t, seen[v], "duplicate item %d", v)
		seen[v] = true

		p := v / perProducer
		if last, ok := lastPerProducer[p]; ok {
			require.Greater(t, v, last, "producer %d reordered", p)
		}
		lastPerProducer[p] = v
	}
	wg.Wait()
}
