// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Pool configuration with a one-way freeze latch. Values are mutable until
// the first operation that depends on them runs; afterwards every setter
// fails with api.ErrConfigFrozen.

package control

import (
	"log/slog"
	"sync"
	"time"

	"github.com/momentics/hipiol/api"
)

// MB is the number of bytes in a mebibyte.
const MB = 1 << 20

const (
	DefaultConstantMemoryLimit = 10 * MB
	DefaultIOBlockSize         = 4096
	DefaultMaxClientCount      = 10000
	DefaultAcceptBacklog       = 1024
)

// Config holds the pool parameters. Use NewConfig for defaults.
type Config struct {
	mu     sync.RWMutex
	frozen bool

	constantMemoryLimit int
	ioMemoryLimit       int
	ioBlockSize         int
	maxClientCount      int
	acceptBacklog       int
	completionWorkers   int
	engineCPU           int
	noDelay             bool
	keepAlive           time.Duration
	logger              *slog.Logger
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		constantMemoryLimit: DefaultConstantMemoryLimit,
		ioBlockSize:         DefaultIOBlockSize,
		maxClientCount:      DefaultMaxClientCount,
		acceptBacklog:       DefaultAcceptBacklog,
		engineCPU:           -1,
		noDelay:             true,
		logger:              slog.Default(),
	}
}

// Freeze makes the configuration immutable. Calling it again is a no-op.
func (c *Config) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// IsFrozen reports whether Freeze has run.
func (c *Config) IsFrozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// set applies fn under the write lock unless the configuration is frozen.
func (c *Config) set(name string, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return api.ErrConfigFrozen.WithContext("field", name)
	}
	fn()
	return nil
}

func positive(name string, v int) error {
	if v <= 0 {
		return api.ErrInvalidArgument.WithContext(name, v)
	}
	return nil
}

// SetConstantMemoryLimit sets the byte quota for constant blocks.
func (c *Config) SetConstantMemoryLimit(n int) error {
	if err := positive("constant_memory_limit", n); err != nil {
		return err
	}
	return c.set("constant_memory_limit", func() { c.constantMemoryLimit = n })
}

// SetIOMemoryLimit sets the byte quota for IO blocks in use, overriding the
// limit derived from the client count and block size.
func (c *Config) SetIOMemoryLimit(n int) error {
	if err := positive("io_memory_limit", n); err != nil {
		return err
	}
	return c.set("io_memory_limit", func() { c.ioMemoryLimit = n })
}

// SetIOBlockSize sets the size of each receive buffer.
func (c *Config) SetIOBlockSize(n int) error {
	if err := positive("io_block_size", n); err != nil {
		return err
	}
	return c.set("io_block_size", func() { c.ioBlockSize = n })
}

// SetMaxClientCount sets the number of client slots.
func (c *Config) SetMaxClientCount(n int) error {
	if err := positive("max_client_count", n); err != nil {
		return err
	}
	return c.set("max_client_count", func() { c.maxClientCount = n })
}

// SetAcceptBacklog sets the listen(2) backlog depth.
func (c *Config) SetAcceptBacklog(n int) error {
	if err := positive("accept_backlog", n); err != nil {
		return err
	}
	return c.set("accept_backlog", func() { c.acceptBacklog = n })
}

// SetCompletionWorkers sets the size of the I/O completion worker pool.
// Zero derives the size from the client count.
func (c *Config) SetCompletionWorkers(n int) error {
	if n < 0 {
		return api.ErrInvalidArgument.WithContext("completion_workers", n)
	}
	return c.set("completion_workers", func() { c.completionWorkers = n })
}

// SetEngineCPU pins the engine loop thread to the given CPU. -1 disables pinning.
func (c *Config) SetEngineCPU(cpu int) error {
	if cpu < -1 {
		return api.ErrInvalidArgument.WithContext("engine_cpu", cpu)
	}
	return c.set("engine_cpu", func() { c.engineCPU = cpu })
}

// SetNoDelay toggles TCP_NODELAY on accepted sockets.
func (c *Config) SetNoDelay(on bool) error {
	return c.set("no_delay", func() { c.noDelay = on })
}

// SetKeepAlive sets the TCP keepalive period on accepted sockets. Zero keeps the OS default.
func (c *Config) SetKeepAlive(d time.Duration) error {
	if d < 0 {
		return api.ErrInvalidArgument.WithContext("keep_alive", d)
	}
	return c.set("keep_alive", func() { c.keepAlive = d })
}

// SetLogger replaces the logger. Nil restores slog.Default().
func (c *Config) SetLogger(l *slog.Logger) error {
	if l == nil {
		l = slog.Default()
	}
	return c.set("logger", func() { c.logger = l })
}

func (c *Config) ConstantMemoryLimit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.constantMemoryLimit
}

// IOMemoryLimit returns the IO block quota. When unset it is derived as two
// blocks per client slot: one outstanding receive plus one block retained
// by a pending send.
func (c *Config) IOMemoryLimit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ioMemoryLimitLocked()
}

func (c *Config) ioMemoryLimitLocked() int {
	if c.ioMemoryLimit > 0 {
		return c.ioMemoryLimit
	}
	return 2 * c.maxClientCount * c.ioBlockSize
}

func (c *Config) IOBlockSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ioBlockSize
}

func (c *Config) MaxClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxClientCount
}

func (c *Config) AcceptBacklog() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acceptBacklog
}

// CompletionWorkers returns the configured worker count, or two workers per
// client slot (one receive and one write outstanding each) when unset.
func (c *Config) CompletionWorkers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.completionWorkers > 0 {
		return c.completionWorkers
	}
	return 2 * c.maxClientCount
}

func (c *Config) EngineCPU() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engineCPU
}

func (c *Config) NoDelay() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.noDelay
}

func (c *Config) KeepAlive() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keepAlive
}

func (c *Config) Logger() *slog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Snapshot returns a copy of all config values for debug export.
func (c *Config) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]any{
		"frozen":                c.frozen,
		"constant_memory_limit": c.constantMemoryLimit,
		"io_memory_limit":       c.ioMemoryLimitLocked(),
		"io_block_size":         c.ioBlockSize,
		"max_client_count":      c.maxClientCount,
		"accept_backlog":        c.acceptBacklog,
		"completion_workers":    c.completionWorkers,
		"engine_cpu":            c.engineCPU,
		"no_delay":              c.noDelay,
		"keep_alive":            c.keepAlive,
	}
}
