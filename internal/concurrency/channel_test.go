package concurrency_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hipiol/internal/concurrency"
)

func drainAll(t *testing.T, ch *concurrency.Channel[int]) []int {
	t.Helper()
	var out []int
	for {
		batch, ok := ch.DrainBlocking()
		if !ok {
			return out
		}
		for {
			v, ok := batch.Next()
			if !ok {
				break
			}
			out = append(out, v)
		}
	}
}

func TestChannelSingleProducerOrder(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	for i := 0; i < 100; i++ {
		require.NoError(t, ch.Enqueue(i))
	}
	assert.Equal(t, 100, ch.Len())

	batch, ok := ch.DrainBlocking()
	require.True(t, ok)
	assert.Equal(t, 100, batch.Len())
	for i := 0; i < 100; i++ {
		v, ok := batch.Next()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, ch.Len())
}

func TestChannelPartialBatchIsResumed(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	require.NoError(t, ch.Enqueue(1))
	require.NoError(t, ch.Enqueue(2))

	batch, ok := ch.DrainBlocking()
	require.True(t, ok)
	v, _ := batch.Next()
	assert.Equal(t, 1, v)

	// events enqueued now go to the other queue
	require.NoError(t, ch.Enqueue(3))

	batch, ok = ch.DrainBlocking()
	require.True(t, ok)
	assert.Equal(t, 1, batch.Len())
	v, _ = batch.Next()
	assert.Equal(t, 2, v)

	batch, ok = ch.DrainBlocking()
	require.True(t, ok)
	v, _ = batch.Next()
	assert.Equal(t, 3, v)
}

func TestChannelCloseDeliversQueued(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	require.NoError(t, ch.Enqueue(1))
	ch.Close()
	ch.Close()
	assert.True(t, ch.Closed())
	require.ErrorIs(t, ch.Enqueue(2), concurrency.ErrChannelClosed)

	assert.Equal(t, []int{1}, drainAll(t, ch))
}

func TestChannelCloseWakesConsumer(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	done := make(chan bool)
	go func() {
		_, ok := ch.DrainBlocking()
		done <- ok
	}()
	ch.Close()
	assert.False(t, <-done)
}

func TestChannelPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 1000
	ch := concurrency.NewChannel[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = ch.Enqueue(p*perProducer + i)
			}
		}(p)
	}
	go func() {
		wg.Wait()
		ch.Close()
	}()

	got := drainAll(t, ch)
	require.Len(t, got, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for _, v := range got {
		p, i := v/perProducer, v%perProducer
		require.Greater(t, i, last[p], "producer %d out of order", p)
		last[p] = i
	}
}
