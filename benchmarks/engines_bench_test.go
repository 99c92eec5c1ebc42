// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Round-trip benchmarks for the three engines.

package benchmarks_test

import (
	"bufio"
	"math/rand"
	"net"
	"testing"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/core/protocol"
	"github.com/momentics/sortbench/server"
)

func benchmarkEngine(b *testing.B, kind server.Kind, arraySize int) {
	e, err := server.New(kind, server.WithHost("127.0.0.1"))
	if api.CodeOf(err) == api.ErrCodeNotSupported {
		b.Skip("engine not supported on this platform")
	}
	if err != nil {
		b.Fatal(err)
	}
	if err := e.Start(0, 4); err != nil {
		b.Fatal(err)
	}
	defer e.Shutdown()

	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	rng := rand.New(rand.NewSource(1))
	rec := protocol.Record{Elements: make([]int32, arraySize)}
	for i := range rec.Elements {
		rec.Elements[i] = rng.Int31()
	}
	frame := protocol.EncodeFrame(&rec)

	b.SetBytes(int64(len(frame)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(frame); err != nil {
			b.Fatal(err)
		}
		if _, err := protocol.ReadFrame(r, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBlockingRoundTrip(b *testing.B) {
	benchmarkEngine(b, server.KindBlocking, 1000)
}

func BenchmarkMultiplexedRoundTrip(b *testing.B) {
	benchmarkEngine(b, server.KindMultiplexed, 1000)
}

func BenchmarkCompletionRoundTrip(b *testing.B) {
	benchmarkEngine(b, server.KindCompletion, 1000)
}

// BenchmarkPipelined keeps 64 requests in flight on one connection.
func BenchmarkPipelined(b *testing.B) {
	for _, kind := range server.Kinds() {
		b.Run(kind.String(), func(b *testing.B) {
			e, err := server.New(kind, server.WithHost("127.0.0.1"))
			if api.CodeOf(err) == api.ErrCodeNotSupported {
				b.Skip()
			}
			if err != nil {
				b.Fatal(err)
			}
			if err := e.Start(0, 4); err != nil {
				b.Fatal(err)
			}
			defer e.Shutdown()
			conn, err := net.Dial("tcp", e.Addr().String())
			if err != nil {
				b.Fatal(err)
			}
			defer conn.Close()

			const depth = 64
			var batch []byte
			for i := 0; i < depth; i++ {
				batch = protocol.AppendFrame(batch, &protocol.Record{ID: int32(i), Elements: []int32{3, 2, 1}})
			}
			r := bufio.NewReader(conn)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := conn.Write(batch); err != nil {
					b.Fatal(err)
				}
				for j := 0; j < depth; j++ {
					if _, err := protocol.ReadFrame(r, 0); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}
