package reactor

import (
	"context"
	"os"
	"sync/atomic"
	"time"
)

// Reactor is the single-threaded event loop described in spec §3/§5: it
// owns the FD watcher table, the time queue, and (lazily) the signal
// proxy, and dispatches every callback from the one goroutine that calls
// Run.
type Reactor struct {
	fds     *fdTable
	timers  *timeQueue
	signals *signalProxy

	logger    Logger
	errorSink func(error)

	stopRequested atomic.Bool
	wakeRead      *os.File
	wakeWrite     *os.File
	wakeFD        int
}

// New constructs a Reactor with its platform backend (epoll on Linux,
// kqueue on Darwin) and its cross-goroutine wake pipe already armed.
func New(opts ...ReactorOption) (*Reactor, error) {
	cfg := resolveReactorOptions(opts)

	b, err := newBackend()
	if err != nil {
		return nil, NewConfigError("reactor.New", err)
	}

	r := &Reactor{
		fds:       newFDTable(b),
		timers:    newTimeQueue(),
		logger:    cfg.logger,
		errorSink: cfg.errorSink,
	}

	rf, wf, err := os.Pipe()
	if err != nil {
		_ = b.Close()
		return nil, NewConfigError("reactor.New", err)
	}
	if err := setNonblock(int(rf.Fd())); err != nil {
		rf.Close()
		wf.Close()
		_ = b.Close()
		return nil, NewConfigError("reactor.New", err)
	}
	r.wakeRead, r.wakeWrite, r.wakeFD = rf, wf, int(rf.Fd())
	if err := r.fds.watchIO(r.wakeFD, ioCallbacks{read: r.drainWake}); err != nil {
		rf.Close()
		wf.Close()
		_ = b.Close()
		return nil, err
	}

	return r, nil
}

func (r *Reactor) drainWake() {
	var scratch [512]byte
	for {
		n, err := r.wakeRead.Read(scratch[:])
		if n == 0 || isWouldBlock(err) || err != nil {
			return
		}
	}
}

// Logger returns the reactor's configured logger.
func (r *Reactor) Logger() Logger { return r.logger }

// reportError delivers err to the configured error sink (if any), after
// logging it — spec §7's "reactor error sink for user-callback failures"
// and the signal-dispatch-failure path in §4.2.
func (r *Reactor) reportError(err error) {
	if r.logger != nil {
		r.logger.Warn("reactor error", "error", err)
	}
	if r.errorSink != nil {
		r.errorSink(err)
	}
}

// AfterFunc schedules cb to run after d elapses, returning a handle usable
// with CancelTimer. This is the Reactor-level surface over the time queue
// (spec §4.1); Timer (timer.go) wraps it as an attachable notifier for
// composition into a tree.
func (r *Reactor) AfterFunc(d time.Duration, cb func()) TimerHandle {
	return r.timers.Enqueue(time.Now().Add(d), cb)
}

// CancelTimer cancels a handle returned by AfterFunc. Idempotent.
func (r *Reactor) CancelTimer(h TimerHandle) {
	r.timers.Cancel(h)
}

// WatchSignal installs cb for sig, creating the reactor's signal proxy on
// first use (spec §9's "initialize lazily on first watch").
func (r *Reactor) WatchSignal(sig os.Signal, cb func()) error {
	if r.signals == nil {
		sp, err := newSignalProxy(r)
		if err != nil {
			return err
		}
		r.signals = sp
	}
	return r.signals.Watch(sig, cb)
}

// UnwatchSignal removes sig's callback, tearing down the signal proxy
// entirely once no signal remains watched (spec §9's "tear down fully on
// last unwatch").
func (r *Reactor) UnwatchSignal(sig os.Signal) {
	if r.signals == nil {
		return
	}
	r.signals.Unwatch(sig)
	if !r.signals.watched() {
		r.signals.close()
		r.signals = nil
	}
}

// Run blocks, dispatching callbacks on the calling goroutine, until Stop
// is called or ctx is done. It is the sole blocking entry point (spec §5
// NEW); every other Reactor method except Stop must be called from this
// goroutine.
func (r *Reactor) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				r.Stop()
			case <-stopWatch:
			}
		}()
	}

	for !r.stopRequested.Load() {
		if err := r.runOnce(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Stop requests the loop exit at the start of its next iteration and
// wakes it if it is currently blocked in the backend's Wait call. It is
// the only Reactor method safe to call from a goroutine other than the
// one running Run (spec §5 NEW).
func (r *Reactor) Stop() {
	if r.stopRequested.Swap(true) {
		return
	}
	_, _ = r.wakeWrite.Write([]byte{0})
}

// runOnce implements one loop iteration exactly per spec §4.3 steps 1-5.
func (r *Reactor) runOnce() error {
	now := time.Now()
	timeoutMs := -1
	if deadline, ok := r.timers.NextDeadline(); ok {
		timeoutMs = millisFromTimeout(deadline.Sub(now))
	}
	ceilingMs := int(pollTimeoutCeiling / time.Millisecond)
	if timeoutMs < 0 || timeoutMs > ceilingMs {
		timeoutMs = ceilingMs
	}

	var events []readinessEvent
	if r.fds.len() == 0 {
		// backend quirk: a primitive that returns immediately with no fds
		// registered falls back to a plain sleep for the timeout (§4.3).
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
	} else {
		var err error
		events, err = r.fds.backend.Wait(timeoutMs)
		if err != nil {
			if isInterrupted(err) && r.signals != nil {
				// EINTR with a signal proxy attached: retry once with a
				// zero timeout to pick up signal-driven work (§4.3).
				events, err = r.fds.backend.Wait(0)
				if err != nil && !isInterrupted(err) {
					return err
				}
				if err != nil {
					events = nil
				}
			} else if !isInterrupted(err) {
				return err
			}
		}
	}

	entries := r.fds.collect(events)
	// a panic escaping a callback is reported as a *CallbackError instead of
	// unwinding Run; the rest of this iteration's callbacks are skipped, and
	// timers that have not fired stay queued.
	if err := safeExecute(func() {
		r.fds.firePass(entries)
		r.timers.Fire(time.Now())
	}); err != nil {
		r.reportError(err)
	}
	return nil
}
