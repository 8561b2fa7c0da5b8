package pool_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/control"
	"github.com/momentics/hipiol/pool"
)

func TestConstantBlockCopiesInput(t *testing.T) {
	arena := pool.NewArena(control.NewConfig())
	src := []byte("hello")
	b, err := arena.CreateConstantBlock(src)
	require.NoError(t, err)
	src[0] = 'j'

	assert.True(t, b.IsConstant())
	assert.Equal(t, []byte("hello"), b.Bytes())
	assert.Equal(t, 5, b.Len())
}

func TestConstantQuota(t *testing.T) {
	arena := pool.NewArena(control.NewConfig())

	_, err := arena.CreateConstantBlock(make([]byte, 10*control.MB+1))
	require.ErrorIs(t, err, api.ErrCapacityExceeded)
	assert.Zero(t, arena.Stats().ConstantBytes)

	_, err = arena.CreateConstantBlock(make([]byte, 1024))
	require.NoError(t, err)
	assert.EqualValues(t, 1024, arena.Stats().ConstantBytes)

	_, err = arena.CreateConstantBlock(make([]byte, 10*control.MB-1024))
	require.NoError(t, err, "filling the quota exactly must succeed")
	_, err = arena.CreateConstantBlock([]byte{1})
	require.ErrorIs(t, err, api.ErrCapacityExceeded)
	assert.EqualValues(t, 10*control.MB, arena.Stats().ConstantBytes)
	assert.Equal(t, 2, arena.Stats().ConstantBlocks)
}

func TestEmptyConstantBlock(t *testing.T) {
	arena := pool.NewArena(control.NewConfig())
	b, err := arena.CreateConstantBlock(nil)
	require.NoError(t, err)
	assert.Zero(t, b.Len())
}

func TestArenaFreezesConfig(t *testing.T) {
	cfg := control.NewConfig()
	arena := pool.NewArena(cfg)
	_, err := arena.CreateConstantBlock([]byte("x"))
	require.NoError(t, err)
	require.ErrorIs(t, cfg.SetConstantMemoryLimit(1), api.ErrConfigFrozen)
}

func TestIOBlockReuse(t *testing.T) {
	cfg := control.NewConfig()
	require.NoError(t, cfg.SetIOBlockSize(256))
	arena := pool.NewArena(cfg)

	b, err := arena.GetIOBlock()
	require.NoError(t, err)
	assert.False(t, b.IsConstant())
	assert.Equal(t, 256, b.Len())
	assert.EqualValues(t, 256, arena.Stats().IOBytesInUse)

	arena.Retain(b)
	arena.Release(b)
	assert.EqualValues(t, 256, arena.Stats().IOBytesInUse, "still referenced")

	arena.Release(b)
	st := arena.Stats()
	assert.Zero(t, st.IOBytesInUse)
	assert.Equal(t, 1, st.IOBlocksFree)

	// extra releases are ignored
	arena.Release(b)
	assert.Equal(t, 1, arena.Stats().IOBlocksFree)

	again, err := arena.GetIOBlock()
	require.NoError(t, err)
	assert.Same(t, b, again)
	assert.EqualValues(t, 256, arena.Stats().IOBytesTotal)
}

func TestIOMemoryLimit(t *testing.T) {
	cfg := control.NewConfig()
	require.NoError(t, cfg.SetIOBlockSize(1024))
	require.NoError(t, cfg.SetIOMemoryLimit(2048))
	arena := pool.NewArena(cfg)

	a, err := arena.GetIOBlock()
	require.NoError(t, err)
	_, err = arena.GetIOBlock()
	require.NoError(t, err)
	_, err = arena.GetIOBlock()
	require.ErrorIs(t, err, api.ErrCapacityExceeded)

	arena.Release(a)
	_, err = arena.GetIOBlock()
	require.NoError(t, err)
}

func TestDefaultIOLimitServesEverySlot(t *testing.T) {
	cfg := control.NewConfig()
	arena := pool.NewArena(cfg)

	// one receive per slot plus one retained block per slot
	for i := 0; i < 2*cfg.MaxClientCount(); i++ {
		_, err := arena.GetIOBlock()
		require.NoError(t, err, "block #%d", i+1)
	}
	_, err := arena.GetIOBlock()
	require.ErrorIs(t, err, api.ErrCapacityExceeded)
}

func TestReleaseIgnoresConstantAndForeignBlocks(t *testing.T) {
	arena := pool.NewArena(control.NewConfig())
	other := pool.NewArena(control.NewConfig())

	c, err := arena.CreateConstantBlock([]byte("const"))
	require.NoError(t, err)
	arena.Release(c)
	arena.Release(nil)
	assert.Zero(t, arena.Stats().IOBlocksFree)

	foreign, err := other.GetIOBlock()
	require.NoError(t, err)
	arena.Release(foreign)
	assert.Zero(t, arena.Stats().IOBlocksFree)
	assert.EqualValues(t, foreign.Len(), other.Stats().IOBytesInUse)
	assert.True(t, bytes.Equal([]byte("const"), c.Bytes()))
}

func TestSyncPoolResetsOnPut(t *testing.T) {
	type item struct{ n int }
	sp := pool.NewSyncPool(func() *item { return &item{} }, func(it *item) { it.n = 0 })

	it := sp.Get()
	it.n = 7
	sp.Put(it)
	assert.Zero(t, it.n)
	assert.NotNil(t, sp.Get())
}
