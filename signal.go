package reactor

import (
	"errors"
	"os"
	"os/signal"
	"sync"
)

// signalProxy multiplexes every watched POSIX signal through one
// self-pipe, per spec §4.2. Go's runtime already provides the
// async-signal-safe trampoline (os/signal's relaying machinery runs
// outside user code); this type supplies the rest: a single dedicated
// goroutine that plays the trampoline's role of doing the minimum possible
// work before returning to the kernel, and the self-pipe that crosses back
// into the reactor's single-threaded domain.
//
// It is attached lazily on the reactor's first WatchSignal call and torn
// down on the last UnwatchSignal, per the "global signal state" design
// note: one signal proxy is meaningful per process, and this module's
// usage model is one Reactor per process, so the reactor-owned instance
// plays that role without a separate package-level singleton.
type signalProxy struct {
	reactor *Reactor

	readFile  *os.File
	writeFile *os.File
	readFD    int

	sigCh chan os.Signal
	done  chan struct{}

	mu        sync.Mutex
	queue     []os.Signal
	callbacks map[os.Signal]func()
}

func newSignalProxy(r *Reactor) (*signalProxy, error) {
	rf, wf, err := os.Pipe()
	if err != nil {
		return nil, NewConfigError("newSignalProxy", err)
	}
	if err := setNonblock(int(rf.Fd())); err != nil {
		rf.Close()
		wf.Close()
		return nil, NewConfigError("newSignalProxy", err)
	}
	p := &signalProxy{
		reactor:   r,
		readFile:  rf,
		writeFile: wf,
		readFD:    int(rf.Fd()),
		sigCh:     make(chan os.Signal, 64),
		done:      make(chan struct{}),
		callbacks: make(map[os.Signal]func()),
	}
	if err := r.fds.watchIO(p.readFD, ioCallbacks{read: p.onReadable}); err != nil {
		rf.Close()
		wf.Close()
		return nil, err
	}
	go p.run()
	return p, nil
}

// run is the dedicated per-proxy goroutine. It does the trampoline's job:
// push the signal, wake the pipe if the queue was empty, nothing more.
func (p *signalProxy) run() {
	for {
		select {
		case sig := <-p.sigCh:
			p.mu.Lock()
			wasEmpty := len(p.queue) == 0
			p.queue = append(p.queue, sig)
			p.mu.Unlock()
			if wasEmpty {
				_, _ = p.writeFile.Write([]byte{0})
			}
		case <-p.done:
			return
		}
	}
}

// Watch installs cb for sig, replacing sig's kernel-level disposition with
// this proxy's relay. Calling Watch again for the same sig replaces its
// callback without re-registering the signal.
func (p *signalProxy) Watch(sig os.Signal, cb func()) error {
	if cb == nil {
		return NewConfigError("signalProxy.Watch", errNilSignalCallback)
	}
	_, existed := p.callbacks[sig]
	p.callbacks[sig] = cb
	if !existed {
		signal.Notify(p.sigCh, sig)
	}
	return nil
}

// Unwatch restores sig's prior disposition (system default, since this
// proxy never preserves the previous handler beyond "not ours") and drops
// its callback. Per Go's os/signal semantics, restoring one signal's
// relaying for a shared channel requires re-registering the remainder.
func (p *signalProxy) Unwatch(sig os.Signal) {
	if _, ok := p.callbacks[sig]; !ok {
		return
	}
	delete(p.callbacks, sig)
	signal.Stop(p.sigCh)
	for s := range p.callbacks {
		signal.Notify(p.sigCh, s)
	}
}

// watched reports whether any signal is still registered.
func (p *signalProxy) watched() bool { return len(p.callbacks) > 0 }

// onReadable runs on the reactor thread, per spec §4.2's "on reader-ready"
// step: drain the pipe, atomically swap out the queue, then dispatch each
// callback in order. A callback failure is reported as a
// SignalDispatchError to the reactor's error sink; subsequent queued
// signals still dispatch.
func (p *signalProxy) onReadable() {
	var scratch [4096]byte
	for {
		n, err := p.readFile.Read(scratch[:])
		if n == 0 || isWouldBlock(err) {
			break
		}
		if err != nil {
			break
		}
	}

	p.mu.Lock()
	local := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, sig := range local {
		cb, ok := p.callbacks[sig]
		if !ok {
			continue
		}
		if err := safeExecute(cb); err != nil {
			p.reactor.reportError(&SignalDispatchError{Signal: sig, Cause: err})
		}
	}
}

// close tears down the proxy: stops relaying every signal, terminates the
// goroutine, unregisters the self-pipe from the reactor, and closes both
// ends.
func (p *signalProxy) close() {
	signal.Stop(p.sigCh)
	close(p.done)
	_ = p.reactor.fds.unwatchIO(p.readFD, true, true, true)
	p.readFile.Close()
	p.writeFile.Close()
}

var errNilSignalCallback = errors.New("reactor: signal callback must not be nil")
