package reactor

import (
	"errors"
	"time"
)

// Timer is an attachable notifier wrapping a single recurring-or-once
// deadline on the reactor's time queue. It exists so a timer can be
// composed into a notifier subtree (spec §9's tagged-capability-set
// design: Timer is one of the notifier kinds alongside Bytestream,
// Listener, and workerpool.Pool) rather than only being
// reachable via Reactor.AfterFunc directly.
type Timer struct {
	Notifier

	delay    time.Duration
	repeat   bool
	callback func()
	handle   TimerHandle
	active   bool
}

// NewTimer constructs a Timer that invokes cb after delay elapses once
// attached. If repeat is true, the timer re-arms itself for another delay
// immediately after each firing.
func NewTimer(delay time.Duration, repeat bool, cb func()) *Timer {
	t := &Timer{delay: delay, repeat: repeat, callback: cb}
	InitNotifier(&t.Notifier, t)
	return t
}

func (t *Timer) Configure() error {
	if t.callback == nil {
		return NewConfigError("Timer.configure", errNilTimerCallback)
	}
	return nil
}

func (t *Timer) AttachIO(r *Reactor) {
	t.arm(r)
}

func (t *Timer) DetachIO(r *Reactor) {
	if t.active {
		r.CancelTimer(t.handle)
		t.active = false
	}
}

func (t *Timer) arm(r *Reactor) {
	t.handle = r.AfterFunc(t.delay, func() { t.fire(r) })
	t.active = true
}

func (t *Timer) fire(r *Reactor) {
	t.active = false
	if err := safeExecute(t.callback); err != nil {
		r.reportError(err)
	}
	if t.repeat && t.Attached() {
		t.arm(r)
	}
}

var errNilTimerCallback = errors.New("reactor: timer callback must not be nil")
