//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with eventfd wake-up.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/momentics/sortbench/api"
	"golang.org/x/sys/unix"
)

var _ api.Reactor = (*Poller)(nil)

// Poller is a level-triggered epoll reactor. Register, Unregister and Wake
// may be called from any goroutine; Wait belongs to the owning loop.
type Poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool
}

// NewPoller creates an epoll instance sized for batches of maxEvents.
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 256
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Register adds fd with the given interest set.
func (p *Poller) Register(fd int, events api.IOEvents) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Unregister removes fd. Removing a descriptor that is already closed is not
// an error.
func (p *Poller) Unregister(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks for up to timeoutMs (forever when negative) and fills events
// with ready descriptors. A wake-up consumes the eventfd and is not reported,
// so Wait may return 0. EINTR also yields 0.
func (p *Poller) Wait(events []api.Event, timeoutMs int) (int, error) {
	limit := min(len(events), len(p.raw))
	if limit == 0 {
		return 0, nil
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:limit], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(p.raw[i].Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		events[out] = api.Event{Fd: fd, Events: fromEpoll(p.raw[i].Events)}
		out++
	}
	return out, nil
}

// Wake interrupts a concurrent or the next Wait.
func (p *Poller) Wake() error {
	if p.closed.Load() {
		return api.ErrNotRunning
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(p.wakefd, one[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll instance and the wake-up descriptor.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

func toEpoll(events api.IOEvents) uint32 {
	var e uint32
	if events&api.EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) api.IOEvents {
	var events api.IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= api.EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= api.EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= api.EventError
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= api.EventHangup
	}
	return events
}
