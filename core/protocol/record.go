// File: core/protocol/record.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"fmt"
	"slices"

	"github.com/momentics/sortbench/api"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record is one tagged integer array. ID is opaque to the server and is echoed
// back so that clients can correlate out-of-order responses.
type Record struct {
	ID       int32
	Elements []int32
}

// Sort orders the elements ascending in place.
func (r *Record) Sort() {
	slices.Sort(r.Elements)
}

// PayloadSize returns the encoded payload size of r in bytes.
func PayloadSize(r *Record) int {
	n := 0
	if r.ID != 0 {
		n += protowire.SizeTag(fieldID) + protowire.SizeVarint(uint64(int64(r.ID)))
	}
	if len(r.Elements) > 0 {
		packed := packedSize(r.Elements)
		n += protowire.SizeTag(fieldElements) + protowire.SizeBytes(packed)
	}
	return n
}

func packedSize(elems []int32) int {
	n := 0
	for _, v := range elems {
		n += protowire.SizeVarint(uint64(int64(v)))
	}
	return n
}

// Encode returns the payload encoding of r. It never fails.
func Encode(r *Record) []byte {
	return AppendPayload(make([]byte, 0, PayloadSize(r)), r)
}

// AppendPayload appends the payload encoding of r to b. Fields are emitted
// in number order with elements packed, so the output is deterministic.
func AppendPayload(b []byte, r *Record) []byte {
	if r.ID != 0 {
		b = protowire.AppendTag(b, fieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(r.ID)))
	}
	if len(r.Elements) > 0 {
		b = protowire.AppendTag(b, fieldElements, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(packedSize(r.Elements)))
		for _, v := range r.Elements {
			b = protowire.AppendVarint(b, uint64(int64(v)))
		}
	}
	return b
}

// Decode parses a single payload held entirely in b. Elements is never nil
// on success. Unknown fields are skipped; elements are accepted both packed
// and unpacked.
func Decode(b []byte) (*Record, error) {
	r := &Record{Elements: []int32{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, malformed(protowire.ParseError(m))
			}
			r.ID = int32(v)
			b = b[m:]
		case num == fieldElements && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, malformed(protowire.ParseError(m))
			}
			b = b[m:]
			if r.Elements, m = appendPacked(r.Elements, packed); m < 0 {
				return nil, malformed(protowire.ParseError(m))
			}
		case num == fieldElements && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, malformed(protowire.ParseError(m))
			}
			r.Elements = append(r.Elements, int32(v))
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, malformed(protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return r, nil
}

// appendPacked decodes a packed varint run. A negative count reports the
// protowire error code of the first bad element.
func appendPacked(dst []int32, packed []byte) ([]int32, int) {
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return dst, n
		}
		dst = append(dst, int32(v))
		packed = packed[n:]
	}
	return dst, 0
}

func malformed(cause error) error {
	return api.WrapError(api.ErrCodeMalformedPayload, "decode payload",
		fmt.Errorf("%w: %w", api.ErrMalformedPayload, cause))
}
