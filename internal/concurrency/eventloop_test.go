package concurrency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hipiol/internal/concurrency"
)

func TestEventLoopDispatchesInOrder(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	var got []int
	loop := concurrency.NewEventLoop(ch, func(v int) { got = append(got, v) }, -1, nil)
	require.NoError(t, loop.Start(context.Background()))

	for i := 0; i < 50; i++ {
		require.NoError(t, ch.Enqueue(i))
	}
	loop.Stop()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.EqualValues(t, 50, loop.Handled())
	assert.Zero(t, loop.Pending())
}

func TestEventLoopSurvivesPanics(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	var seen []int
	loop := concurrency.NewEventLoop(ch, func(v int) {
		if v%2 == 0 {
			panic("even")
		}
		seen = append(seen, v)
	}, -1, nil)
	require.NoError(t, loop.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, ch.Enqueue(i))
	}
	loop.Stop()

	assert.Equal(t, []int{1, 3, 5}, seen)
	assert.EqualValues(t, 3, loop.Panics())
	assert.EqualValues(t, 3, loop.Handled())
}

func TestEventLoopStopsOnCancel(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	loop := concurrency.NewEventLoop(ch, func(int) {}, -1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))
	require.ErrorIs(t, loop.Start(ctx), concurrency.ErrLoopRunning)

	cancel()
	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.True(t, ch.Closed())
}

func TestEventLoopStopWithoutStart(t *testing.T) {
	ch := concurrency.NewChannel[int]()
	loop := concurrency.NewEventLoop(ch, func(int) {}, -1, nil)
	loop.Stop()
	assert.True(t, ch.Closed())
}
