package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Listener is the accept-loop notifier named in spec §3/§9's handler-role
// list ("notifier, stream, listener, signal, timer, worker") and the
// tagged-variant kind alongside Bytestream/Timer/workerpool.Pool. It owns
// a single listening descriptor, accepting connections
// as the reactor reports it read-ready and handing each new descriptor to
// an AcceptFunc — the same "accept, then hand the fd to whatever owns it
// next" shape used around net.Listener.Accept in the reference pack's
// gaio-based watchers, adapted to a callback driven off readiness rather
// than a blocking Accept call.
type Listener struct {
	Notifier

	fd     int
	onConn func(fd int)
	onErr  func(err error)

	closed bool
}

var errNilAcceptCallback = errors.New("reactor: listener accept callback must not be nil")

// NewListener wraps an already-bound, already-listening descriptor fd. The
// caller retains responsibility for creating and binding the socket (this
// module has no opinion on address families or listen backlog); onConn is
// invoked once per accepted connection with its descriptor — in blocking
// mode on Linux; on Darwin accept(2) carries over the listening socket's
// non-blocking flag — and the caller decides whether to wrap it in a Bytestream,
// set it non-blocking, or hand it off elsewhere entirely.
func NewListener(fd int, onConn func(fd int), onErr func(err error)) *Listener {
	l := &Listener{fd: fd, onConn: onConn, onErr: onErr}
	InitNotifier(&l.Notifier, l)
	return l
}

func (l *Listener) Configure() error {
	if l.onConn == nil {
		return NewConfigError("Listener.configure", errNilAcceptCallback)
	}
	return nil
}

func (l *Listener) AttachIO(r *Reactor) {
	_ = setNonblock(l.fd)
	_ = r.fds.watchIO(l.fd, ioCallbacks{read: l.onAcceptReady})
}

func (l *Listener) DetachIO(r *Reactor) {
	_ = r.fds.unwatchIO(l.fd, true, false, false)
}

// onAcceptReady drains every connection pending in the kernel's accept
// queue before returning, mirroring Bytestream.onReadReady's "loop until
// would-block" discipline rather than accepting one connection per
// readiness notification.
func (l *Listener) onAcceptReady() {
	for {
		connFD, _, err := unix.Accept(l.fd)
		if err == nil {
			if err := safeExecute(func() { l.onConn(connFD) }); err != nil {
				if r := l.Reactor(); r != nil {
					r.reportError(err)
				}
			}
			continue
		}
		if isWouldBlock(err) || isInterrupted(err) {
			return
		}
		l.performClose(&FatalIOError{Op: "Listener.accept", Fd: l.fd, Cause: err})
		return
	}
}

func (l *Listener) performClose(err error) {
	if l.closed {
		return
	}
	l.closed = true
	l.Detach()
	_ = unix.Close(l.fd)
	if l.onErr != nil {
		l.onErr(err)
	}
}

// Close tears down the listener explicitly, outside of an accept error.
func (l *Listener) Close() {
	l.performClose(nil)
}
