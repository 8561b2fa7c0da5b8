//go:build linux
// +build linux

// hipiol/internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation of thread pinning via sched_setaffinity.

package concurrency

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinCurrentThread binds the calling OS thread to cpuID. The caller must
// already hold runtime.LockOSThread.
func PinCurrentThread(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}
