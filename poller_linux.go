//go:build linux

package reactor

import "golang.org/x/sys/unix"

// epollBackend implements backend on Linux using epoll, grounded on the
// teacher's poller_linux.go epoll_ctl/epoll_wait usage. Unlike the
// teacher, there is no lock-free registration table here: spec §5's
// single-thread invariant means only the reactor goroutine ever touches
// this type, so a plain map suffices.
type epollBackend struct {
	epfd       int
	registered map[int]bool
}

func newBackend() (backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: fd, registered: make(map[int]bool)}, nil
}

func epollEventsFor(mask ioMask) uint32 {
	var e uint32
	if mask.has(maskRead) {
		e |= unix.EPOLLIN
	}
	if mask.has(maskWrite) || mask.has(maskPri) {
		e |= unix.EPOLLOUT | unix.EPOLLPRI
	}
	return e
}

func (b *epollBackend) SetMask(fd int, mask ioMask) error {
	ev := unix.EpollEvent{Events: epollEventsFor(mask), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !b.registered[fd] {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(b.epfd, op, fd, &ev); err != nil {
		return err
	}
	b.registered[fd] = true
	return nil
}

func (b *epollBackend) Clear(fd int) error {
	if !b.registered[fd] {
		return nil
	}
	delete(b.registered, fd)
	// the event argument is ignored by EPOLL_CTL_DEL on modern kernels, but
	// older kernels required a non-nil pointer.
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

func (b *epollBackend) Wait(timeoutMs int) ([]readinessEvent, error) {
	raw := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(b.epfd, raw, timeoutMs)
	if err != nil {
		return nil, err
	}
	out := make([]readinessEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, readinessEvent{fd: int(raw[i].Fd), mask: maskFromEpollEvents(raw[i].Events)})
	}
	return out, nil
}

func maskFromEpollEvents(e uint32) ioMask {
	var m ioMask
	if e&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		m |= maskRead
	}
	if e&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		m |= maskWrite
	}
	if e&unix.EPOLLPRI != 0 {
		m |= maskPri
	}
	if e&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		m |= maskHangup
	}
	return m
}

func (b *epollBackend) Close() error {
	return unix.Close(b.epfd)
}
