// File: pool/block.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Block is the unit of memory exchanged between user callbacks and the engine.

package pool

// Block owns a byte buffer.
//
// Constant blocks are created from a copy of caller data, never change and
// may be queued for sending to any number of clients at once. IO blocks are
// receive buffers: each is owned by exactly one outstanding operation and
// goes back to its arena once nothing references it.
type Block struct {
	data     []byte
	constant bool
	arena    *Arena
	refs     int
}

// IsConstant reports whether the block is an immutable shared block.
func (b *Block) IsConstant() bool {
	return b.constant
}

// Bytes returns the block storage. Constant block contents must not be modified.
func (b *Block) Bytes() []byte {
	return b.data
}

// Len returns the block size in bytes.
func (b *Block) Len() int {
	return len(b.data)
}
