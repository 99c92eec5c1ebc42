// File: api/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is the capability shared by the three server architectures.

package api

import "net"

// Engine serves the sort protocol on a TCP port.
type Engine interface {
	// Start binds port and begins serving with a worker pool of the given
	// size. Port 0 selects an ephemeral port, see Addr.
	Start(port int, workers int) error

	// Shutdown stops accepting, closes every live connection and waits for
	// the worker pool to drain. Resource release failures are reported but
	// do not stop the teardown.
	Shutdown() error

	// Addr returns the bound listening address, nil before Start.
	Addr() net.Addr
}
