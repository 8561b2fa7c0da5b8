// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrChannelClosed indicates the completion channel no longer accepts events
	ErrChannelClosed = errors.New("completion channel is closed")

	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrLoopRunning indicates Run was called on a loop that is already running
	ErrLoopRunning = errors.New("event loop already running")

	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")
)
