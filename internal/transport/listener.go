// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent entry points for the listening socket and for tuning
// accepted connections. Platform files provide newListener.

package transport

import (
	"fmt"
	"net"
	"time"
)

// ListenerConfig holds configuration for the TCP listener.
type ListenerConfig struct {
	Port    int // local TCP port, 0 picks an ephemeral port
	Backlog int // accept queue depth passed to listen(2)
}

// Listen opens a TCP listener on all IPv4 interfaces.
func Listen(cfg ListenerConfig) (net.Listener, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("listen: invalid port %d", cfg.Port)
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 128
	}
	ln, err := newListener(cfg)
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	return ln, nil
}

// ConnOptions describes per-connection socket tuning.
type ConnOptions struct {
	NoDelay   bool
	KeepAlive time.Duration // zero keeps the OS default
}

// Tune applies opts to an accepted connection. Non-TCP connections are left untouched.
func Tune(conn net.Conn, opts ConnOptions) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	if opts.KeepAlive > 0 {
		if err := tc.SetKeepAlive(true); err != nil {
			return fmt.Errorf("set keepalive: %w", err)
		}
		if err := tc.SetKeepAlivePeriod(opts.KeepAlive); err != nil {
			return fmt.Errorf("set keepalive period: %w", err)
		}
	}
	return nil
}
