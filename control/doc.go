// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection layer for hipiol.
//
// Provides concurrent-safe state handling primitives including:
//   - Pool configuration frozen on first use
//   - Lock-free engine counters with snapshot export
//   - State export, debug hooks, and probe registration
package control
