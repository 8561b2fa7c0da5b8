// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named state probes for live engine inspection. Probes are read-only
// closures over engine state that is safe to observe from any goroutine.

package control

import (
	"log/slog"
	"slices"
	"sync"
)

// Probe returns one value of debug state.
type Probe func() any

// DebugProbes is a registry of named probes.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewDebugProbes creates an empty probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]Probe)}
}

// RegisterProbe adds or replaces the probe under name. A nil fn removes it.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if fn == nil {
		delete(dp.probes, name)
		return
	}
	dp.probes[name] = fn
}

// Names returns the registered probe names in sorted order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.probes))
	for name := range dp.probes {
		names = append(names, name)
	}
	dp.mu.RUnlock()
	slices.Sort(names)
	return names
}

// DumpState runs every probe and returns the results by name. Probes run
// outside the registry lock, so a probe may itself register probes. A
// panicking probe reports its panic value instead of a result.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	snapshot := make(map[string]Probe, len(dp.probes))
	for k, fn := range dp.probes {
		snapshot[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(snapshot))
	for k, fn := range snapshot {
		out[k] = runProbe(k, fn)
	}
	return out
}

func runProbe(name string, fn Probe) (v any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("debug probe panicked", "probe", name, "panic", r)
			v = r
		}
	}()
	return fn()
}
