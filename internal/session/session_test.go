package session_test

import (
	"sync"
	"testing"

	"github.com/momentics/sortbench/core/protocol"
	"github.com/momentics/sortbench/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed pushes data through r in chunks of at most step bytes, the way a
// non-blocking socket might deliver it, and collects completed payloads.
func feed(t *testing.T, r *session.FrameReader, data []byte, step int) [][]byte {
	t.Helper()
	var out [][]byte
	for len(data) > 0 {
		buf := r.Buffer()
		require.NotEmpty(t, buf)
		n := copy(buf, data[:min(step, len(data))])
		data = data[n:]
		payload, done, err := r.Advance(n)
		require.NoError(t, err)
		if done {
			out = append(out, payload)
		}
	}
	return out
}

func TestFrameReaderAssemblesFrames(t *testing.T) {
	recs := []protocol.Record{
		{ID: 0, Elements: []int32{5, 3, 5, 1}},
		{ID: 1, Elements: []int32{}},
		{ID: 2, Elements: []int32{-1, 7, 100000}},
	}
	var stream []byte
	for i := range recs {
		stream = protocol.AppendFrame(stream, &recs[i])
	}
	for _, step := range []int{1, 2, 3, 7, len(stream)} {
		r := session.NewFrameReader(0)
		payloads := feed(t, r, stream, step)
		require.Len(t, payloads, len(recs), "step %d", step)
		for i, p := range payloads {
			got, err := protocol.Decode(p)
			require.NoError(t, err)
			assert.Equal(t, recs[i], *got)
		}
		assert.Equal(t, session.AwaitingLength, r.Phase())
	}
}

func TestFrameReaderPhases(t *testing.T) {
	r := session.NewFrameReader(0)
	assert.Equal(t, session.AwaitingLength, r.Phase())
	assert.Len(t, r.Buffer(), protocol.LengthPrefixSize)

	copy(r.Buffer(), []byte{0, 0, 0, 3})
	_, done, err := r.Advance(4)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, session.AwaitingBody, r.Phase())
	assert.Len(t, r.Buffer(), 3)
}

func TestFrameReaderRejectsOversizedLength(t *testing.T) {
	r := session.NewFrameReader(16)
	copy(r.Buffer(), []byte{0, 0, 1, 0})
	_, _, err := r.Advance(4)
	assert.Error(t, err)
}

func TestOutboundKickAndDrain(t *testing.T) {
	o := session.NewOutbound(nil)
	assert.Nil(t, o.Current())

	assert.True(t, o.Push([]byte("aaaa")), "first push on idle connection kicks")
	assert.False(t, o.Push([]byte("bb")), "writer already scheduled")
	assert.Equal(t, 2, o.Pending())

	cur := o.Current()
	assert.Equal(t, []byte("aaaa"), cur)
	assert.False(t, o.Wrote(3))
	assert.Equal(t, []byte("a"), o.Current())
	assert.True(t, o.Wrote(1))
	assert.True(t, o.Complete(), "second buffer pending")

	assert.Equal(t, []byte("bb"), o.Current())
	assert.True(t, o.Wrote(2))
	assert.False(t, o.Complete(), "queue drained")
	assert.Equal(t, 0, o.Pending())

	assert.True(t, o.Push([]byte("c")), "idle again, next push kicks")
}

func TestOutboundReleasesWrittenBuffers(t *testing.T) {
	var released [][]byte
	o := session.NewOutbound(func(b []byte) { released = append(released, b) })
	o.Push([]byte("xy"))
	o.Push([]byte("z"))

	o.Current()
	o.Wrote(2)
	assert.Empty(t, released, "nothing released before Complete")
	o.Complete()
	o.Current()
	o.Wrote(1)
	o.Complete()
	assert.Equal(t, [][]byte{[]byte("xy"), []byte("z")}, released)
}

func TestOutboundConcurrentProducers(t *testing.T) {
	o := session.NewOutbound(nil)
	const producers, each = 8, 500
	var writer sync.WaitGroup
	kicked := make(chan struct{}, producers*each)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if o.Push([]byte{byte(p), byte(i)}) {
					kicked <- struct{}{}
				}
			}
		}(p)
	}

	// Single writer: every kick drains until Complete reports idle.
	written := 0
	writer.Add(1)
	go func() {
		defer writer.Done()
		for written < producers*each {
			<-kicked
			for {
				cur := o.Current()
				if !assert.NotNil(t, cur) {
					return
				}
				o.Wrote(len(cur))
				written++
				if !o.Complete() {
					break
				}
			}
		}
	}()
	wg.Wait()
	writer.Wait()
	assert.Equal(t, producers*each, written)
	assert.Equal(t, 0, o.Pending())
}

func TestConnMarkClosedOnce(t *testing.T) {
	c := session.NewConn(42, 0, nil)
	assert.Equal(t, uint64(42), c.ID())
	assert.False(t, c.Closed())
	assert.True(t, c.MarkClosed())
	assert.False(t, c.MarkClosed())
	assert.True(t, c.Closed())
	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestRegistry(t *testing.T) {
	r := session.NewRegistry[*session.Conn](4)
	for i := uint64(0); i < 10; i++ {
		r.Add(i, session.NewConn(i, 0, nil))
	}
	assert.Equal(t, 10, r.Len())
	assert.True(t, r.Remove(3))
	assert.False(t, r.Remove(3))
	snap := r.Snapshot()
	assert.Len(t, snap, 9)
	for _, c := range snap {
		r.Remove(c.ID())
	}
	assert.Equal(t, 0, r.Len())
}
