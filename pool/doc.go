// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable memory for the response path: a generic sync.Pool wrapper and a
// byte-slice pool for encoded response frames.
package pool
