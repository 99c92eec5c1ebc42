// Package session
// Author: momentics <momentics@gmail.com>
//
// Per-connection state shared by every server engine: the frame read state
// machine and the pipelined outbound queue.
//
// The outbound side is multi-producer (sort workers) and single-consumer (the
// engine's write path). Producers and the consumer coordinate only through an
// atomic pending counter: the push that moves it from 0 to 1 must schedule a
// write, and the write completion that moves it back to 0 stops the writer.
// No lock is ever held across a socket write.

package session
