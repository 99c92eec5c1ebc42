//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/sortbench/api"

// Poller is unavailable on this platform; every method reports
// api.ErrNotSupported.
type Poller struct{}

// NewPoller returns api.ErrNotSupported.
func NewPoller(int) (*Poller, error) {
	return nil, api.ErrNotSupported
}

func (*Poller) Register(int, api.IOEvents) error {
	return api.ErrNotSupported
}

func (*Poller) Unregister(int) error {
	return api.ErrNotSupported
}

func (*Poller) Wait([]api.Event, int) (int, error) {
	return 0, api.ErrNotSupported
}

func (*Poller) Wake() error {
	return api.ErrNotSupported
}

func (*Poller) Close() error {
	return nil
}
