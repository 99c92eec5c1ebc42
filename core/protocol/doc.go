// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the sort service wire protocol.
//
// A frame is a 4-byte big-endian payload length followed by the payload. The
// payload is the protobuf wire encoding of
//
//	message IntArray {
//	  int32 id = 1;
//	  repeated int32 elements = 2;
//	}
//
// Requests and responses share the frame and the schema. Two decode modes are
// provided: stream decoding for engines that own a blocking reader, and
// single-buffer decoding for engines that assemble the payload themselves.
package protocol
