// File: internal/network/event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion events carried from I/O goroutines to the engine loop.

package network

import (
	"net"
	"time"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/pool"
)

// Kind discriminates Event payloads.
type Kind uint8

const (
	// KindClientAccepted carries a freshly accepted connection.
	KindClientAccepted Kind = iota + 1
	// KindDataReceived completes one outstanding receive.
	KindDataReceived
	// KindDataSend asks the loop to queue a block for a client.
	KindDataSend
	// KindDataSent completes one vectored write.
	KindDataSent
	// KindReceiveRequest asks the loop to enable receiving for a client.
	KindReceiveRequest
	// KindDisconnectRequest asks the loop to disconnect a client.
	KindDisconnectRequest
	// KindShutdown disconnects every client.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindClientAccepted:
		return "client-accepted"
	case KindDataReceived:
		return "data-received"
	case KindDataSend:
		return "data-send"
	case KindDataSent:
		return "data-sent"
	case KindReceiveRequest:
		return "receive-request"
	case KindDisconnectRequest:
		return "disconnect-request"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is a recyclable value carrier. Only the fields of its Kind are set.
type Event struct {
	Kind Kind

	// KindClientAccepted
	Conn    net.Conn
	Arrival time.Time

	// every client-addressed kind
	Handle api.Client

	// KindDataSend; KindDataReceived carries the receive block back
	Block  *pool.Block
	Offset int
	Length int

	// KindDataReceived, KindDataSent
	N   int
	Err error

	// KindReceiveRequest
	Timeout time.Duration

	// KindDataSent: the batch that was written
	batch *segment
}

func (e *Event) reset() {
	*e = Event{}
}

func newEventPool() *pool.SyncPool[*Event] {
	return pool.NewSyncPool(
		func() *Event { return &Event{} },
		func(e *Event) { e.reset() },
	)
}
