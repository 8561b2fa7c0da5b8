//go:build !linux
// +build !linux

// internal/transport/listener_other.go
// Author: momentics <momentics@gmail.com>
//
// Portable listener. The runtime chooses the backlog on these platforms.

package transport

import (
	"context"
	"fmt"
	"net"
)

func newListener(cfg ListenerConfig) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", cfg.Port))
}
