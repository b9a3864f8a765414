//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/wsdial/api"
)

// linuxReactor is a level-triggered epoll reactor.
type linuxReactor struct {
	epfd int
	raw  []unix.EpollEvent // scratch for Wait, loop goroutine only
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &linuxReactor{epfd: epfd}, nil
}

func epollBits(interest api.Readiness) uint32 {
	var bits uint32
	if interest.Has(api.EventReadable) {
		bits |= unix.EPOLLIN
	}
	if interest.Has(api.EventWritable) {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func readiness(bits uint32) api.Readiness {
	var r api.Readiness
	if bits&unix.EPOLLIN != 0 {
		r |= api.EventReadable
	}
	if bits&unix.EPOLLOUT != 0 {
		r |= api.EventWritable
	}
	if bits&unix.EPOLLERR != 0 {
		r |= api.EventError
	}
	if bits&unix.EPOLLHUP != 0 {
		r |= api.EventHangUp
	}
	return r
}

// Register adds file descriptor to epoll.
func (r *linuxReactor) Register(fd uintptr, interest api.Readiness) error {
	event := &unix.EpollEvent{
		Events: epollBits(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), event); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify rewrites the interest set, the pollfd-events analogue.
func (r *linuxReactor) Modify(fd uintptr, interest api.Readiness) error {
	event := &unix.EpollEvent{
		Events: epollBits(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), event); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Unregister removes the descriptor from epoll.
func (r *linuxReactor) Unregister(fd uintptr) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait waits for epoll events and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	rawEvents := r.raw[:len(events)]
	n, err := unix.EpollWait(r.epfd, rawEvents, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		events[i] = Event{
			Fd:    uintptr(rawEvents[i].Fd),
			Ready: readiness(rawEvents[i].Events),
		}
	}
	return n, nil
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return unix.Close(r.epfd)
}
