// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket plumbing for the server engines. AsyncListener and AsyncConn model
// completion-style I/O: each call starts one operation and its outcome is
// delivered to a handler on a dispatcher executor. The linux-only raw socket
// helpers give the multiplexed engine non-blocking descriptors it can poll.

package transport
