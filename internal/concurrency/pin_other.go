//go:build !linux
// +build !linux

// hipiol/internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
//
// Pinning stub for platforms without a supported affinity call.

package concurrency

// PinCurrentThread is not supported here; the thread stays locked but unpinned.
func PinCurrentThread(cpuID int) error {
	return ErrAffinityNotSupported
}
