// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hipiol.
// Implements the block arena (quota-tracked constant blocks and recycled IO
// receive blocks) and generic object pooling used for engine events.
// See arena.go and block.go for implementation details.
package pool
