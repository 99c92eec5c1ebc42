// File: internal/session/frame_reader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import "github.com/momentics/sortbench/core/protocol"

// Phase is the read-side state of a connection.
type Phase uint8

const (
	AwaitingLength Phase = iota
	AwaitingBody
)

func (p Phase) String() string {
	if p == AwaitingBody {
		return "awaiting_body"
	}
	return "awaiting_length"
}

// FrameReader assembles length-prefixed frames from partial reads. It is not
// safe for concurrent use; exactly one read is outstanding per connection.
type FrameReader struct {
	phase   Phase
	hdr     [protocol.LengthPrefixSize]byte
	body    []byte
	off     int
	maxSize int
}

// NewFrameReader returns a reader awaiting a length field. maxSize bounds the
// accepted payload length, see protocol.ParseLength.
func NewFrameReader(maxSize int) *FrameReader {
	return &FrameReader{maxSize: maxSize}
}

// Phase reports the current read phase.
func (f *FrameReader) Phase() Phase {
	return f.phase
}

// Buffer returns the unfilled remainder of the active buffer. The next read
// must land here and be reported through Advance.
func (f *FrameReader) Buffer() []byte {
	if f.phase == AwaitingLength {
		return f.hdr[f.off:]
	}
	return f.body[f.off:]
}

// Advance accounts for n bytes read into Buffer. When a body completes it
// returns the payload and done=true, and the reader is back to
// AwaitingLength. A zero-length frame completes as soon as its length field
// does. An oversized length field yields an error.
func (f *FrameReader) Advance(n int) (payload []byte, done bool, err error) {
	f.off += n
	switch f.phase {
	case AwaitingLength:
		if f.off < len(f.hdr) {
			return nil, false, nil
		}
		size, err := protocol.ParseLength(f.hdr[:], f.maxSize)
		if err != nil {
			return nil, false, err
		}
		f.off = 0
		if size == 0 {
			return []byte{}, true, nil
		}
		f.body = make([]byte, size)
		f.phase = AwaitingBody
		return nil, false, nil
	default:
		if f.off < len(f.body) {
			return nil, false, nil
		}
		payload = f.body
		f.body = nil
		f.off = 0
		f.phase = AwaitingLength
		return payload, true, nil
	}
}
