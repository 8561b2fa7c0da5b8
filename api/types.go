// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import (
	"fmt"
	"time"
)

// Client is an opaque handle to one accepted connection.
//
// A handle stays valid only while its Generation matches the generation of
// the slot at Index. Once the connection is disconnected the slot generation
// advances and every operation addressed to the old handle is ignored.
type Client struct {
	Index      uint32
	Generation uint32
}

func (c Client) String() string {
	return fmt.Sprintf("client#%d/%d", c.Index, c.Generation)
}

// Tag is an arbitrary user value attached to a client for the lifetime of
// its connection. It is cleared when the client disconnects.
type Tag any

// SlotState enumerates the lifecycle state of a client slot.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotAccepted
	SlotRegistered
	SlotReceiving
	SlotDisconnected
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotAccepted:
		return "accepted"
	case SlotRegistered:
		return "registered"
	case SlotReceiving:
		return "receiving"
	case SlotDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Stats provides a standard layout for engine health/statistics reporting.
type Stats struct {
	Accepted        uint64 // clients registered since start
	Disconnected    uint64 // clients disconnected since start
	Rejected        uint64 // connections refused because the slot table was full
	ActiveClients   int
	InboundTraffic  uint64 // bytes received
	OutboundTraffic uint64 // bytes sent
	SendsCompleted  uint64
	StaleDropped    uint64 // requests addressed to recycled handles
	CallbackPanics  uint64
	ConstantBytes   int64
	IOBytesInUse    int64
	PendingEvents   int
	StartedAt       time.Time
}
