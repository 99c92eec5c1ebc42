// File: server/options.go
// Package server defines functional options for engine construction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/control"
	"go.uber.org/zap"
)

// Option customizes engine initialization.
type Option func(*Config)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithLatencyHooks installs the start/end measurement hooks.
func WithLatencyHooks(h api.LatencyHooks) Option {
	return func(c *Config) {
		if h != nil {
			c.Hooks = h
		}
	}
}

// WithMetrics attaches Prometheus collectors; the engine labels them with
// its kind.
func WithMetrics(m *control.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithMalformedPolicy selects how undecodable payloads are treated.
func WithMalformedPolicy(p MalformedPolicy) Option {
	return func(c *Config) {
		c.MalformedPolicy = p
	}
}

// WithHost sets the bind host.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithDispatchers sets the completion dispatcher size.
func WithDispatchers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Dispatchers = n
		}
	}
}

// WithPollBatch sets how many readiness events one wait may return.
func WithPollBatch(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PollBatch = n
		}
	}
}

// WithMaxFrameSize bounds request payloads.
func WithMaxFrameSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxFrameSize = n
		}
	}
}

// WithLoopCPUs pins the multiplexed engine's read and write loops to the
// given CPUs. A negative value leaves that loop unpinned.
func WithLoopCPUs(readCPU, writeCPU int) Option {
	return func(c *Config) {
		c.ReadLoopCPU = readCPU
		c.WriteLoopCPU = writeCPU
	}
}
