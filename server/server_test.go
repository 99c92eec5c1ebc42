package server_test

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/momentics/sortbench/affinity"
	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/control"
	"github.com/momentics/sortbench/core/protocol"
	"github.com/momentics/sortbench/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEngine starts an engine of kind on an ephemeral loopback port, or
// skips the test when the platform lacks it.
func startEngine(t *testing.T, kind server.Kind, workers int, opts ...server.Option) api.Engine {
	t.Helper()
	opts = append([]server.Option{server.WithHost("127.0.0.1")}, opts...)
	e, err := server.New(kind, opts...)
	if errors.Is(err, api.ErrNotSupported) {
		t.Skipf("%s engine not supported on this platform", kind)
	}
	require.NoError(t, err)
	require.NoError(t, e.Start(0, workers))
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func forEachKind(t *testing.T, fn func(t *testing.T, kind server.Kind)) {
	for _, kind := range server.Kinds() {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) { fn(t, kind) })
	}
}

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, e api.Engine) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", e.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, recs ...protocol.Record) {
	t.Helper()
	var buf []byte
	for i := range recs {
		buf = protocol.AppendFrame(buf, &recs[i])
	}
	_, err := c.conn.Write(buf)
	require.NoError(t, err)
}

// recvAll reads n responses keyed by id.
func (c *testClient) recvAll(t *testing.T, n int) map[int32][]int32 {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	got := make(map[int32][]int32, n)
	for i := 0; i < n; i++ {
		rec, err := protocol.ReadFrame(c.r, 0)
		require.NoError(t, err, "response %d of %d", i, n)
		_, dup := got[rec.ID]
		require.False(t, dup, "duplicate response for id %d", rec.ID)
		got[rec.ID] = rec.Elements
	}
	return got
}

func randomRecords(rng *rand.Rand, first int32, n, maxLen int) []protocol.Record {
	recs := make([]protocol.Record, n)
	for i := range recs {
		elems := make([]int32, rng.Intn(maxLen+1))
		for j := range elems {
			elems[j] = rng.Int31() - (1 << 30)
		}
		recs[i] = protocol.Record{ID: first + int32(i), Elements: elems}
	}
	return recs
}

func assertSortedResponses(t *testing.T, sent []protocol.Record, got map[int32][]int32) {
	t.Helper()
	require.Len(t, got, len(sent))
	for _, r := range sent {
		want := slices.Clone(r.Elements)
		slices.Sort(want)
		assert.Equal(t, want, got[r.ID], "id %d", r.ID)
	}
}

func TestConcreteScenario(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 2)
		c := dial(t, e)
		c.send(t,
			protocol.Record{ID: 0, Elements: []int32{5, 3, 5, 1}},
			protocol.Record{ID: 1, Elements: []int32{}})
		got := c.recvAll(t, 2)
		assert.Equal(t, []int32{1, 3, 5, 5}, got[0])
		assert.Empty(t, got[1])
	})
}

func TestSingleElementUnchanged(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 1)
		c := dial(t, e)
		c.send(t, protocol.Record{ID: -7, Elements: []int32{42}})
		got := c.recvAll(t, 1)
		assert.Equal(t, []int32{42}, got[-7])
	})
}

func TestPipelinedRequests(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 4)
		c := dial(t, e)
		recs := randomRecords(rand.New(rand.NewSource(1)), 100, 200, 500)
		c.send(t, recs...)
		assertSortedResponses(t, recs, c.recvAll(t, len(recs)))
	})
}

func TestMultiplexedPinnedLoops(t *testing.T) {
	cpus, err := affinity.Allowed()
	if err != nil {
		t.Skip("cpu affinity not supported on this platform")
	}
	require.NotEmpty(t, cpus)
	e := startEngine(t, server.KindMultiplexed, 2,
		server.WithLoopCPUs(cpus[0], cpus[len(cpus)-1]))
	c := dial(t, e)
	recs := randomRecords(rand.New(rand.NewSource(3)), 0, 20, 100)
	c.send(t, recs...)
	assertSortedResponses(t, recs, c.recvAll(t, len(recs)))
}

func TestLargeArray(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 2)
		c := dial(t, e)
		recs := randomRecords(rand.New(rand.NewSource(2)), 1, 1, 0)
		recs[0].Elements = make([]int32, 300000)
		for i := range recs[0].Elements {
			recs[0].Elements[i] = int32(len(recs[0].Elements) - i)
		}
		c.send(t, recs...)
		assertSortedResponses(t, recs, c.recvAll(t, 1))
	})
}

func TestManyConnections(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 4)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			c := dial(t, e)
			recs := randomRecords(rand.New(rand.NewSource(int64(i))), int32(i*1000), 50, 100)
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.send(t, recs...)
				assertSortedResponses(t, recs, c.recvAll(t, len(recs)))
			}()
		}
		wg.Wait()
	})
}

func TestCrossEngineEquivalence(t *testing.T) {
	recs := randomRecords(rand.New(rand.NewSource(3)), 0, 64, 64)
	var reference map[int32][]int32
	for _, kind := range server.Kinds() {
		e, err := server.New(kind, server.WithHost("127.0.0.1"))
		if errors.Is(err, api.ErrNotSupported) {
			continue
		}
		require.NoError(t, err)
		require.NoError(t, e.Start(0, 3))
		c := dial(t, e)
		c.send(t, recs...)
		got := c.recvAll(t, len(recs))
		require.NoError(t, e.Shutdown())
		if reference == nil {
			reference = got
			continue
		}
		assert.Equal(t, reference, got, "%s differs", kind)
	}
}

func TestMalformedPolicy(t *testing.T) {
	garbage := []byte{0, 0, 0, 2, 0x08, 0x80} // truncated varint
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		t.Run("drop", func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m, err := control.NewMetrics(reg)
			require.NoError(t, err)
			e := startEngine(t, kind, 1, server.WithMetrics(m))
			c := dial(t, e)
			_, err = c.conn.Write(garbage)
			require.NoError(t, err)
			c.send(t, protocol.Record{ID: 9, Elements: []int32{2, 1}})
			got := c.recvAll(t, 1)
			assert.Equal(t, []int32{1, 2}, got[9], "connection survives a malformed frame")
		})
		t.Run("close", func(t *testing.T) {
			e := startEngine(t, kind, 1, server.WithMalformedPolicy(server.MalformedClose))
			c := dial(t, e)
			_, err := c.conn.Write(garbage)
			require.NoError(t, err)
			require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, err = protocol.ReadFrame(c.r, 0)
			assert.Error(t, err)
			var ne net.Error
			if errors.As(err, &ne) {
				assert.False(t, ne.Timeout(), "server should close, not hang")
			}
		})
	})
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 1, server.WithMaxFrameSize(16))
		c := dial(t, e)
		_, err := c.conn.Write([]byte{0, 0, 1, 0})
		require.NoError(t, err)
		require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, err = protocol.ReadFrame(c.r, 0)
		assert.Error(t, err)
		var ne net.Error
		if errors.As(err, &ne) {
			assert.False(t, ne.Timeout())
		}
	})
}

func TestLatencyHooks(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		stats := control.NewStatistics()
		rec := control.NewRecorder(stats)
		e := startEngine(t, kind, 2, server.WithLatencyHooks(rec))
		c := dial(t, e)
		recs := randomRecords(rand.New(rand.NewSource(4)), 0, 20, 10)
		c.send(t, recs...)
		c.recvAll(t, len(recs))
		// The end mark follows the enqueue, so it may trail the response.
		assert.Eventually(t, func() bool {
			return stats.SampleCount(control.Server) == int64(len(recs))
		}, 2*time.Second, 5*time.Millisecond)
		assert.Zero(t, rec.InFlight())
	})
}

func TestShutdownWithOpenConnections(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e, err := server.New(kind, server.WithHost("127.0.0.1"))
		if errors.Is(err, api.ErrNotSupported) {
			t.Skip()
		}
		require.NoError(t, err)
		require.NoError(t, e.Start(0, 2))

		clients := make([]*testClient, 4)
		for i := range clients {
			clients[i] = dial(t, e)
			// In-flight work plus a half-written frame.
			clients[i].send(t, randomRecords(rand.New(rand.NewSource(int64(i))), 0, 50, 2000)...)
			_, err := clients[i].conn.Write([]byte{0, 0, 0, 9, 0x08})
			require.NoError(t, err)
		}

		done := make(chan error, 1)
		go func() { done <- e.Shutdown() }()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("shutdown hung")
		}
		assert.Nil(t, e.Addr())

		// Every socket ends closed: reads drain to an error.
		for _, c := range clients {
			require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			var err error
			for err == nil {
				_, err = protocol.ReadFrame(c.r, 0)
			}
			var ne net.Error
			if errors.As(err, &ne) {
				assert.False(t, ne.Timeout(), "connection left open")
			}
		}
		assert.NoError(t, e.Shutdown(), "second shutdown is a no-op")
	})
}

func TestStartErrors(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 1)
		assert.ErrorIs(t, e.Start(0, 1), api.ErrAlreadyRunning)

		port := e.Addr().(*net.TCPAddr).Port
		other, err := server.New(kind, server.WithHost("127.0.0.1"))
		require.NoError(t, err)
		err = other.Start(port, 1)
		require.Error(t, err)
		assert.Equal(t, api.ErrCodeBind, api.CodeOf(err))

		assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(other.Start(0, 0)))
	})
}

func TestRestartAfterShutdown(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind server.Kind) {
		e := startEngine(t, kind, 1)
		require.NoError(t, e.Shutdown())
		require.NoError(t, e.Start(0, 1))
		c := dial(t, e)
		c.send(t, protocol.Record{ID: 5, Elements: []int32{3, 2, 1}})
		assert.Equal(t, []int32{1, 2, 3}, c.recvAll(t, 1)[5])
	})
}

func TestParseKind(t *testing.T) {
	cases := map[string]server.Kind{
		"blocking":    server.KindBlocking,
		"1":           server.KindBlocking,
		"Multiplexed": server.KindMultiplexed,
		"nonblocking": server.KindMultiplexed,
		"async":       server.KindCompletion,
		" 3 ":         server.KindCompletion,
	}
	for in, want := range cases {
		got, err := server.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := server.ParseKind("threads")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, "kind(9)", server.Kind(9).String())

	_, err = server.New(server.Kind(9))
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))
}

func ExampleNew() {
	e, err := server.New(server.KindBlocking, server.WithHost("127.0.0.1"))
	if err != nil {
		panic(err)
	}
	if err := e.Start(0, 2); err != nil {
		panic(err)
	}
	defer e.Shutdown()

	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	_ = protocol.WriteFrame(conn, &protocol.Record{ID: 1, Elements: []int32{3, 1, 2}})
	rec, _ := protocol.ReadFrame(conn, 0)
	fmt.Println(rec.ID, rec.Elements)
	// Output: 1 [1 2 3]
}
