// File: server/types.go
// Package server implements the three sort engines behind api.Engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/control"
	"github.com/momentics/sortbench/core/protocol"
	"go.uber.org/zap"
)

// Kind selects an I/O concurrency architecture.
type Kind int

const (
	// KindBlocking serves each connection with a reader and a writer goroutine.
	KindBlocking Kind = iota
	// KindMultiplexed serves all connections from one epoll read loop and one
	// epoll write loop.
	KindMultiplexed
	// KindCompletion chains asynchronous read and write completions.
	KindCompletion
)

var kindNames = [...]string{
	KindBlocking:    "blocking",
	KindMultiplexed: "multiplexed",
	KindCompletion:  "completion",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds lists every engine kind.
func Kinds() []Kind {
	return []Kind{KindBlocking, KindMultiplexed, KindCompletion}
}

// ParseKind maps a flag value to a Kind. Besides the canonical names it
// accepts the numeric menu choices 1, 2 and 3.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocking", "1":
		return KindBlocking, nil
	case "multiplexed", "nonblocking", "non-blocking", "2":
		return KindMultiplexed, nil
	case "completion", "async", "asynchronous", "3":
		return KindCompletion, nil
	}
	return 0, api.WrapError(api.ErrCodeInvalidArgument, "parse engine kind", api.ErrInvalidArgument).
		WithContext("value", s)
}

// MalformedPolicy decides what happens to a connection that sent a payload
// which does not decode.
type MalformedPolicy int

const (
	// MalformedDrop logs and drops the frame; the connection stays open.
	MalformedDrop MalformedPolicy = iota
	// MalformedClose closes the connection.
	MalformedClose
)

func (p MalformedPolicy) String() string {
	if p == MalformedClose {
		return "close"
	}
	return "drop"
}

// Config holds all engine configuration parameters.
type Config struct {
	Host            string // bind host, empty for all interfaces
	Dispatchers     int    // completion dispatcher goroutines (completion engine)
	PollBatch       int    // readiness events per wait (multiplexed engine)
	MaxFrameSize    int    // largest accepted request payload
	MalformedPolicy MalformedPolicy
	ReadLoopCPU     int // CPU the multiplexed read loop pins to, -1 for none
	WriteLoopCPU    int // CPU the multiplexed write loop pins to, -1 for none
	Logger          *zap.Logger
	Hooks           api.LatencyHooks
	Metrics         *control.Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Dispatchers:     runtime.NumCPU(),
		PollBatch:       256,
		MaxFrameSize:    protocol.MaxFramePayload,
		MalformedPolicy: MalformedDrop,
		ReadLoopCPU:     -1,
		WriteLoopCPU:    -1,
		Logger:          zap.NewNop(),
		Hooks:           api.NopLatencyHooks{},
	}
}
