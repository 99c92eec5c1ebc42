// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants

package protocol

import "google.golang.org/protobuf/encoding/protowire"

const (
	// LengthPrefixSize is the size of the frame length field.
	LengthPrefixSize = 4

	// MaxFramePayload is the default upper bound for a single payload. The
	// length field is attacker controlled, so allocation is capped.
	MaxFramePayload = 64 << 20 // 64 MiB

	fieldID       protowire.Number = 1
	fieldElements protowire.Number = 2
)
