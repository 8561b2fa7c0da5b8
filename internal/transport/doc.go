// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP transport layer for hipiol: listening socket construction with an
// explicit accept backlog (build-tag separated per platform) and socket
// tuning for accepted connections.

package transport
