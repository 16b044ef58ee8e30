package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// setNonblock puts fd into non-blocking mode, required for every
// descriptor the reactor owns directly (self-pipes, bytestream ends).
func setNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// isWouldBlock reports whether err is the "operation would block" signal
// from a non-blocking syscall — the one transient condition spec §7 says
// to swallow and retry, never surface.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// isInterrupted reports whether err is EINTR, the other transient
// condition spec §7 names.
func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// isRegularFile reports whether fd refers to a regular file, the condition
// under which spec §4.3 requires the reactor to synthesize readiness
// internally rather than rely on the backend (regular files are always
// "ready" under epoll/kqueue, but backends are inconsistent about saying
// so explicitly).
func isRegularFile(fd int) bool {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFREG
}

// millisFromTimeout rounds d up to the nearest millisecond, per spec
// §4.3's timeout accounting rule. A non-positive d yields 0 (poll without
// blocking); d is never reported as -1 here — callers use -1 to mean "no
// deadline" explicitly.
func millisFromTimeout(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}

// safeExecute runs fn, converting a panic into a *CallbackError so that a
// misbehaving user callback never takes down the reactor thread, per the
// panic-to-error recovery boundary spec §9 calls for.
func safeExecute(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = &CallbackError{Cause: e}
			} else {
				err = &CallbackError{Cause: fmt.Errorf("%v", r)}
			}
		}
	}()
	fn()
	return nil
}

// safeExecuteErr runs fn, converting either a panic or a returned error
// into a *CallbackError.
func safeExecuteErr(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = &CallbackError{Cause: e}
			} else {
				err = &CallbackError{Cause: fmt.Errorf("%v", r)}
			}
		}
	}()
	if e := fn(); e != nil {
		return &CallbackError{Cause: e}
	}
	return nil
}
