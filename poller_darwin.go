//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// kqueueBackend implements backend on Darwin using kqueue, grounded on the
// teacher's poller_darwin.go kevent usage. As on Linux, the teacher's
// multi-producer registration machinery is dropped: spec §5 guarantees
// only the reactor goroutine ever calls into this type.
type kqueueBackend struct {
	kq    int
	masks map[int]ioMask
}

func newBackend() (backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueueBackend{kq: fd, masks: make(map[int]ioMask)}, nil
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (b *kqueueBackend) SetMask(fd int, mask ioMask) error {
	prev := b.masks[fd]
	var changes []unix.Kevent_t

	wantRead := mask.has(maskRead)
	hadRead := prev.has(maskRead)
	if wantRead && !hadRead {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE))
	} else if !wantRead && hadRead {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}

	wantWrite := mask.has(maskWrite) || mask.has(maskPri)
	hadWrite := prev.has(maskWrite) || prev.has(maskPri)
	if wantWrite && !hadWrite {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE))
	} else if !wantWrite && hadWrite {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}

	b.masks[fd] = mask
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	return err
}

func (b *kqueueBackend) Clear(fd int) error {
	prev, ok := b.masks[fd]
	if !ok {
		return nil
	}
	delete(b.masks, fd)
	var changes []unix.Kevent_t
	if prev.has(maskRead) {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if prev.has(maskWrite) || prev.has(maskPri) {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	if len(changes) == 0 {
		return nil
	}
	// the descriptor may already be closed by the time Clear runs; kqueue
	// auto-removes closed fds, so an error here is not fatal.
	_, _ = unix.Kevent(b.kq, changes, nil, nil)
	return nil
}

func (b *kqueueBackend) Wait(timeoutMs int) ([]readinessEvent, error) {
	var ts unix.Timespec
	tsp := &ts
	if timeoutMs < 0 {
		tsp = nil
	} else {
		ts = unix.NsecToTimespec((int64(timeoutMs) * int64(1e6)))
	}
	raw := make([]unix.Kevent_t, 64)
	n, err := unix.Kevent(b.kq, nil, raw, tsp)
	if err != nil {
		return nil, err
	}
	byFD := make(map[int]ioMask, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		m := byFD[fd]
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			m |= maskRead
		case unix.EVFILT_WRITE:
			m |= maskWrite
		}
		if raw[i].Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			m |= maskHangup
		}
		byFD[fd] = m
	}
	out := make([]readinessEvent, 0, len(byFD))
	for fd, m := range byFD {
		out = append(out, readinessEvent{fd: fd, mask: m})
	}
	return out, nil
}

func (b *kqueueBackend) Close() error {
	return unix.Close(b.kq)
}
