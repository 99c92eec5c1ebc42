//go:build linux
// +build linux

// File: internal/transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP sockets for readiness-driven engines.

package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/momentics/sortbench/api"
	"golang.org/x/sys/unix"
)

const listenBacklog = 1024

// ListenNonblock creates a non-blocking IPv4 listening socket on host:port
// and returns its descriptor and bound address. An empty host binds all
// interfaces.
func ListenNonblock(host string, port int) (int, *net.TCPAddr, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return -1, nil, fmt.Errorf("resolve %q: %w", host, err)
		}
		copy(sa.Addr[:], ip.IP.To4())
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("listen: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, SockaddrToTCP(bound), nil
}

// AcceptNonblock accepts one pending connection as a non-blocking descriptor
// with TCP_NODELAY set. It returns unix.EAGAIN when the backlog is empty.
func AcceptNonblock(lfd int) (int, *net.TCPAddr, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return -1, nil, err
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return fd, SockaddrToTCP(sa), nil
	}
}

// Read reads into buf, retrying on EINTR. (0, nil) signals end of stream.
func Read(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// Write writes from buf, retrying on EINTR.
func Write(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// IsWouldBlock reports whether err means the operation must wait for
// readiness.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Close closes a raw descriptor.
func Close(fd int) error {
	if fd < 0 {
		return api.ErrInvalidArgument
	}
	return unix.Close(fd)
}

// SockaddrToTCP converts an IPv4/IPv6 socket address.
func SockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	}
	return nil
}
