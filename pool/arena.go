// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Arena allocates and accounts the two block classes used by a pool:
// quota-tracked constant blocks and recycled IO blocks.
//
// IO blocks are allocated and released on the engine loop only. Constant
// blocks may also be created before listening starts, so their path is
// guarded by a mutex. Byte counters are atomics so Stats may be read from
// any goroutine.

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/control"
)

// Arena is the memory manager of one pool.
type Arena struct {
	cfg *control.Config

	mu sync.Mutex
	// constant keeps every constant block reachable for the arena lifetime.
	constant      []*Block
	constantBytes atomic.Int64

	ioFree      []*Block
	ioFreeCount atomic.Int64
	ioBytes     atomic.Int64 // bytes of IO blocks currently handed out
	ioAllocated atomic.Int64 // bytes of IO blocks ever allocated
}

// ArenaStats aggregates arena accounting.
type ArenaStats struct {
	ConstantBytes  int64
	ConstantBlocks int
	IOBytesInUse   int64
	IOBytesTotal   int64
	IOBlocksFree   int
}

// NewArena creates an arena bound to cfg. The configuration freezes on the
// first allocation.
func NewArena(cfg *control.Config) *Arena {
	return &Arena{cfg: cfg}
}

// CreateConstantBlock copies data into a new constant block. It fails without
// side effects when the constant quota would be exceeded.
func (a *Arena) CreateConstantBlock(data []byte) (*Block, error) {
	a.cfg.Freeze()
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := int64(a.cfg.ConstantMemoryLimit())
	size := int64(len(data))
	if a.constantBytes.Load()+size > limit {
		return nil, api.ErrCapacityExceeded.
			WithContext("requested", size).
			WithContext("allocated", a.constantBytes.Load()).
			WithContext("limit", limit)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	b := &Block{data: buf, constant: true, arena: a}
	a.constant = append(a.constant, b)
	a.constantBytes.Add(size)
	return b, nil
}

// GetIOBlock returns an IO block of the configured size holding one
// reference. Blocks released earlier are reused before new memory is taken.
func (a *Arena) GetIOBlock() (*Block, error) {
	a.cfg.Freeze()
	size := int64(a.cfg.IOBlockSize())
	if a.ioBytes.Load()+size > int64(a.cfg.IOMemoryLimit()) {
		return nil, api.ErrCapacityExceeded.
			WithContext("io_in_use", a.ioBytes.Load()).
			WithContext("limit", a.cfg.IOMemoryLimit())
	}

	var b *Block
	if n := len(a.ioFree); n > 0 {
		b = a.ioFree[n-1]
		a.ioFree[n-1] = nil
		a.ioFree = a.ioFree[:n-1]
		a.ioFreeCount.Add(-1)
	} else {
		b = &Block{data: make([]byte, size), arena: a}
		a.ioAllocated.Add(size)
	}
	b.refs = 1
	a.ioBytes.Add(size)
	return b, nil
}

// Retain adds a reference to an IO block. Constant blocks are not counted.
func (a *Arena) Retain(b *Block) {
	if b == nil || b.constant || b.arena != a {
		return
	}
	b.refs++
}

// Release drops a reference to an IO block and recycles it when none remain.
// Constant and foreign blocks are ignored.
func (a *Arena) Release(b *Block) {
	if b == nil || b.constant || b.arena != a || b.refs <= 0 {
		return
	}
	b.refs--
	if b.refs > 0 {
		return
	}
	a.ioBytes.Add(-int64(len(b.data)))
	a.ioFree = append(a.ioFree, b)
	a.ioFreeCount.Add(1)
}

// Stats returns a snapshot of the arena counters.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	constantBlocks := len(a.constant)
	a.mu.Unlock()
	return ArenaStats{
		ConstantBytes:  a.constantBytes.Load(),
		ConstantBlocks: constantBlocks,
		IOBytesInUse:   a.ioBytes.Load(),
		IOBytesTotal:   a.ioAllocated.Load(),
		IOBlocksFree:   int(a.ioFreeCount.Load()),
	}
}
