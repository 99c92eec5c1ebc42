//go:build linux

package transport_test

import (
	"net"
	"testing"
	"time"

	"github.com/momentics/sortbench/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAcceptNonblock(t *testing.T) {
	lfd, addr, err := transport.ListenNonblock("127.0.0.1", 0)
	require.NoError(t, err)
	defer transport.Close(lfd)
	require.NotZero(t, addr.Port)

	_, _, err = transport.AcceptNonblock(lfd)
	assert.True(t, transport.IsWouldBlock(err), "empty backlog must not block: %v", err)

	peer, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer peer.Close()

	var fd int
	require.Eventually(t, func() bool {
		fd, _, err = transport.AcceptNonblock(lfd)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	defer transport.Close(fd)

	buf := make([]byte, 8)
	_, err = transport.Read(fd, buf)
	assert.True(t, transport.IsWouldBlock(err))

	n, err := transport.Write(fd, []byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	got := make([]byte, 4)
	_, err = peer.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool {
		n, err = transport.Read(fd, buf)
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond, "end of stream reads 0 bytes")
}
