// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hipiol: the multi-producer/single-consumer
// completion channel, the engine event loop that drains it on one locked OS
// thread, and the executor that runs blocking socket operations.
package concurrency
