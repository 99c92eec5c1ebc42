// File: core/protocol/frame_codec.go
// Package protocol implements the length-prefixed frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/sortbench/api"
)

// AppendFrame appends a complete length-prefixed frame for r to dst.
func AppendFrame(dst []byte, r *Record) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = AppendPayload(dst, r)
	binary.BigEndian.PutUint32(dst[start:], uint32(len(dst)-start-LengthPrefixSize))
	return dst
}

// EncodeFrame returns a freshly allocated frame for r.
func EncodeFrame(r *Record) []byte {
	return AppendFrame(make([]byte, 0, LengthPrefixSize+PayloadSize(r)), r)
}

// ParseLength decodes a length field and enforces maxSize. A maxSize of zero
// or less means MaxFramePayload.
func ParseLength(hdr []byte, maxSize int) (int, error) {
	if len(hdr) < LengthPrefixSize {
		return 0, fmt.Errorf("length field: %w", io.ErrUnexpectedEOF)
	}
	if maxSize <= 0 {
		maxSize = MaxFramePayload
	}
	n := binary.BigEndian.Uint32(hdr)
	if uint64(n) > uint64(maxSize) {
		return 0, api.WrapError(api.ErrCodeConnectionIO, "frame length", api.ErrFrameTooLarge).
			WithContext("length", n).
			WithContext("max", maxSize)
	}
	return int(n), nil
}

// ReadFrame reads exactly one frame from r and decodes it.
//
// io.EOF is returned only when r ends cleanly on a frame boundary. A payload
// that fails to parse yields an error with code ErrCodeMalformedPayload; the
// stream is still positioned on the next frame in that case.
func ReadFrame(r io.Reader, maxSize int) (*Record, error) {
	var hdr [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n, err := ParseLength(hdr[:], maxSize)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Decode(payload)
}

// WriteFrame encodes r and writes the whole frame to w.
func WriteFrame(w io.Writer, r *Record) error {
	_, err := w.Write(EncodeFrame(r))
	return err
}
