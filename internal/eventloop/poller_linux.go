//go:build linux

package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollPoller implements Poller with a single epoll instance, following
// the archutils epoll.go split in the docker-compose reference (one
// file per platform family, same three primitives) but built on
// golang.org/x/sys/unix so it is not pinned to a single GOARCH.
type epollPoller struct {
	epfd int
}

// NewPoller creates a Linux epoll-backed Poller.
func NewPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: fd}, nil
}

func (p *epollPoller) Add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeoutMS int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 256)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("eventloop: epoll_wait: %w", err)
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		// Hangup and error conditions surface as readable: the
		// subsequent Read call observes EOF or the error directly.
		if raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			events = append(events, Event{Fd: fd})
		}
	}
	return events, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
