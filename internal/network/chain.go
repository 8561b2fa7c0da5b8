// File: internal/network/chain.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Block chaining. Blocks cannot be linked directly because constant blocks
// are shared, so every pending send is a segment pointing into a block.

package network

import (
	"net"

	"github.com/momentics/hipiol/pool"
)

// segment is one pending Send: a sub-range of a block plus the link to the
// next send of the same client.
type segment struct {
	next   *segment
	block  *pool.Block
	offset int
	length int
}

func (s *segment) bytes() []byte {
	return s.block.Bytes()[s.offset : s.offset+s.length]
}

// chain is a FIFO of segments.
type chain struct {
	head *segment
	tail *segment
	n    int
}

func (c *chain) push(s *segment) {
	s.next = nil
	if c.tail == nil {
		c.head = s
	} else {
		c.tail.next = s
	}
	c.tail = s
	c.n++
}

// take detaches every segment and returns the head of the detached list.
func (c *chain) take() (*segment, int) {
	head, n := c.head, c.n
	c.head, c.tail, c.n = nil, nil, 0
	return head, n
}

func (c *chain) empty() bool {
	return c.head == nil
}

// buffers builds the vectored write for a detached list.
func buffers(head *segment, n int) net.Buffers {
	bufs := make(net.Buffers, 0, n)
	for s := head; s != nil; s = s.next {
		bufs = append(bufs, s.bytes())
	}
	return bufs
}

// segmentList is the free list of recycled segments. Engine loop only.
type segmentList struct {
	free *segment
}

func (l *segmentList) get() *segment {
	s := l.free
	if s == nil {
		return &segment{}
	}
	l.free = s.next
	s.next = nil
	return s
}

func (l *segmentList) put(s *segment) {
	*s = segment{next: l.free}
	l.free = s
}
