//go:build !linux
// +build !linux

// File: server/multiplexed_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/sortbench/api"

func newMultiplexedEngine(*engineBase) (api.Engine, error) {
	return nil, api.WrapError(api.ErrCodeNotSupported, "multiplexed engine", api.ErrNotSupported)
}
