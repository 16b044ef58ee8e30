package workerpool

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	reactor "github.com/frioux/IO-Async-sub003"
	"github.com/frioux/IO-Async-sub003/wire"
	"github.com/joeycumines/go-catrate"
)

// Config configures a Pool, matching spec §4.6's configuration record.
type Config struct {
	// Code names a Func registered with Register, run once per call in a
	// worker subprocess.
	Code string
	// Setup optionally names a func() error registered with
	// RegisterSetup, run once in a worker subprocess before it serves its
	// first call.
	Setup string

	Min, Max int
	// MaxCallsPerWorker, if non-zero, retires a worker gracefully after
	// it has delivered that many results.
	MaxCallsPerWorker int
	// IdleTimeout, if non-zero, arms the idle-reaping timer whenever the
	// pool has more than Min idle workers.
	IdleTimeout time.Duration
	// ExitOnDie, if true, retires a worker after any call it completes
	// with an error tag.
	ExitOnDie bool

	// Codec defaults, if nil, to the codec registered under CodecName
	// (wire.GobCodec{} when CodecName is empty). Only affects how the parent
	// itself encodes call arguments and decodes results; the worker
	// subprocess can't receive this value across the fork/exec boundary, so
	// when set to anything other than the default, CodecName must also be
	// set to the name the matching codec was registered under via
	// RegisterCodec.
	Codec wire.Codec
	// CodecName names a Codec registered via RegisterCodec for the worker
	// subprocess to resolve its own codec by. Defaults to "gob"
	// (wire.GobCodec{}).
	CodecName string

	// ReplacementRate bounds how many worker replacements per second the
	// pool will perform; defaults to 10. A replacement over that rate is
	// logged and skipped, not retried later.
	// This is an additive safety feature (spec §4.6.1 NEW), guarding
	// against a Code that panics on every invocation.
	ReplacementRate float64
}

var (
	errInvalidConfig = errors.New("workerpool: Min must be >= 0 and Max must be >= max(Min, 1)")
)

// Completion is invoked exactly once per dispatched call, with either a
// successful result (res.Tag == wire.TagReturn) or a failure.
type Completion func(res wire.Result, failure *reactor.WorkerFailure)

type pendingCall struct {
	payload    []byte
	completion Completion
}

// Pool is the worker-function pool of spec §3/§4.6. It embeds
// reactor.Notifier so it composes into a larger program's notifier tree
// like any other attachable handler; every worker's two pipe bytestreams
// are children of the pool's own notifier, driven by the same Reactor the
// pool is attached to.
type Pool struct {
	reactor.Notifier

	cfg       Config
	codec     wire.Codec
	codecName string

	workers map[int]*worker
	nextID  int

	pending []pendingCall

	idleTimer        *reactor.Timer
	idleTimerRunning bool

	limiter *catrate.Limiter

	closed bool
}

// New constructs a Pool. It must still be attached (via its embedded
// Notifier.Attach, typically as a child of some other notifier, or
// directly to a Reactor) before it spawns any worker.
func New(cfg Config) (*Pool, error) {
	if cfg.Min < 0 || cfg.Max < 1 || cfg.Max < cfg.Min {
		return nil, reactor.NewConfigError("workerpool.New", errInvalidConfig)
	}
	if _, err := lookupCode(cfg.Code); err != nil {
		return nil, reactor.NewConfigError("workerpool.New", err)
	}
	codecName := cfg.CodecName
	if codecName == "" {
		codecName = defaultCodecName
	}
	registeredCodec, err := lookupCodec(codecName)
	if err != nil {
		return nil, reactor.NewConfigError("workerpool.New", err)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = registeredCodec
	}
	rate := cfg.ReplacementRate
	if rate <= 0 {
		rate = 10
	}
	limiter := catrate.NewLimiter(map[time.Duration]int{
		time.Second: int(rate),
	})
	p := &Pool{
		cfg:       cfg,
		codec:     codec,
		codecName: codecName,
		workers:   make(map[int]*worker),
		limiter:   limiter,
	}
	reactor.InitNotifier(&p.Notifier, p)
	return p, nil
}

func (p *Pool) Configure() error { return nil }

func (p *Pool) AttachIO(r *reactor.Reactor) {
	for len(p.workers) < p.cfg.Min {
		if _, err := p.spawnWorker(r); err != nil {
			r.Logger().Error("workerpool: initial spawn failed", "error", err)
			break
		}
	}
}

func (p *Pool) DetachIO(r *reactor.Reactor) {
	p.closed = true
}

// Call dispatches args to the pool, per spec §4.6's three-step call
// algorithm: serialize once, then pick an idle worker, spawn one if under
// Max, or queue.
func (p *Pool) Call(args []any, completion Completion) error {
	if p.closed || !p.Attached() {
		return reactor.ErrReactorStopped
	}
	payload, err := p.codec.Encode(args)
	if err != nil {
		return reactor.NewConfigError("Pool.Call", err)
	}
	p.dispatchOrQueue(payload, completion)
	return nil
}

func (p *Pool) dispatchOrQueue(payload []byte, completion Completion) {
	if w := p.lowestIdleWorker(); w != nil {
		p.dispatchTo(w, payload, completion)
		return
	}
	if len(p.workers) < p.cfg.Max {
		w, err := p.spawnWorker(p.Reactor())
		if err != nil {
			completion(wire.Result{}, &reactor.WorkerFailure{Kind: reactor.WorkerFailureClosed, Cause: err})
			return
		}
		p.dispatchTo(w, payload, completion)
		return
	}
	p.pending = append(p.pending, pendingCall{payload: payload, completion: completion})
}

func (p *Pool) lowestIdleWorker() *worker {
	var best *worker
	for _, w := range p.workers {
		if w.busy || w.retiring {
			continue
		}
		if best == nil || w.id < best.id {
			best = w
		}
	}
	return best
}

func (p *Pool) dispatchTo(w *worker, payload []byte, completion Completion) {
	w.busy = true
	w.completions = append(w.completions, completion)
	var framed bytes.Buffer
	if err := wire.WriteFrame(&framed, payload); err != nil {
		p.failWorker(w, &reactor.WorkerFailure{Kind: reactor.WorkerFailureClosed, Cause: err})
		return
	}
	w.argBS.Write(framed.Bytes(), nil)
}

// postDispatch is spec §4.6's "post-dispatch": called after any
// completion or worker finish. It redispatches the oldest pending call if
// possible, else arms the idle timer if idle workers exceed Min.
func (p *Pool) postDispatch() {
	if len(p.pending) > 0 {
		if w := p.lowestIdleWorker(); w != nil {
			call := p.pending[0]
			p.pending = p.pending[1:]
			p.dispatchTo(w, call.payload, call.completion)
			return
		}
		if len(p.workers) < p.cfg.Max {
			w, err := p.spawnWorker(p.Reactor())
			if err == nil {
				call := p.pending[0]
				p.pending = p.pending[1:]
				p.dispatchTo(w, call.payload, call.completion)
				return
			}
		}
	}
	p.maybeArmIdleTimer()
}

func (p *Pool) idleCount() int {
	n := 0
	for _, w := range p.workers {
		if !w.busy && !w.retiring {
			n++
		}
	}
	return n
}

func (p *Pool) maybeArmIdleTimer() {
	if p.cfg.IdleTimeout <= 0 || p.idleTimerRunning {
		return
	}
	if p.idleCount() <= p.cfg.Min {
		return
	}
	p.idleTimerRunning = true
	p.idleTimer = reactor.NewTimer(p.cfg.IdleTimeout, false, p.onIdleTimeout)
	_ = p.AddChild(&p.idleTimer.Notifier)
}

func (p *Pool) onIdleTimeout() {
	p.idleTimerRunning = false
	if p.idleTimer != nil {
		_ = p.RemoveChild(&p.idleTimer.Notifier)
		p.idleTimer = nil
	}
	if p.idleCount() <= p.cfg.Min {
		return
	}
	// choose the idle worker with the highest identifier, keeping
	// cache-warm lower-identifier workers (spec §4.6 "idle reaping").
	var victim *worker
	for _, w := range p.workers {
		if w.busy || w.retiring {
			continue
		}
		if victim == nil || w.id > victim.id {
			victim = w
		}
	}
	if victim != nil {
		p.retireWorker(victim)
	}
	p.maybeArmIdleTimer()
}

// retireWorker sends end-of-input on the worker's argument pipe; the
// worker's own main loop observes it and exits cleanly (spec §4.6).
func (p *Pool) retireWorker(w *worker) {
	w.retiring = true
	w.argBS.CloseWhenEmpty()
}

// onWorkerExited handles a worker's pipe closing (spec §4.6 failure
// semantics): fail every pending completion on it with "closed", spawn a
// replacement if below Min, and re-dispatch any pool-level pending calls.
func (p *Pool) onWorkerExited(w *worker, cause error) {
	delete(p.workers, w.id)
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		go w.cmd.Wait() //nolint:errcheck // reap in background, not reactor-blocking
	}
	for _, completion := range w.completions {
		completion(wire.Result{}, &reactor.WorkerFailure{Kind: reactor.WorkerFailureClosed, Cause: cause})
	}
	w.completions = nil

	if !p.closed && len(p.workers) < p.cfg.Min {
		p.replaceWorker()
	}
	p.postDispatch()
}

func (p *Pool) replaceWorker() {
	if _, ok := p.limiter.Allow("replace"); !ok {
		if r := p.Reactor(); r != nil {
			r.Logger().Warn("workerpool: replacement rate limited")
		}
		return
	}
	if _, err := p.spawnWorker(p.Reactor()); err != nil {
		if r := p.Reactor(); r != nil {
			r.Logger().Error("workerpool: replacement spawn failed", "error", err)
		}
	}
}

// failWorker handles a call failing outright before dispatch could even
// reach the worker (e.g. a framing error); it is treated the same as the
// worker having exited.
func (p *Pool) failWorker(w *worker, failure *reactor.WorkerFailure) {
	p.onWorkerExited(w, failure.Cause)
}

func (p *Pool) spawnWorker(r *reactor.Reactor) (*worker, error) {
	if r == nil {
		return nil, errors.New("workerpool: pool not attached to a reactor")
	}

	argsR, argsW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("workerpool: create args pipe: %w", err)
	}
	resultR, resultW, err := os.Pipe()
	if err != nil {
		argsR.Close()
		argsW.Close()
		return nil, fmt.Errorf("workerpool: create result pipe: %w", err)
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		workerCodeEnv+"="+p.cfg.Code,
		workerSetupEnv+"="+p.cfg.Setup,
		workerCodecEnv+"="+p.codecName,
	)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{argsR, resultW}

	if err := cmd.Start(); err != nil {
		argsR.Close()
		argsW.Close()
		resultR.Close()
		resultW.Close()
		return nil, fmt.Errorf("workerpool: spawn worker: %w", err)
	}
	argsR.Close()
	resultW.Close()

	id := p.nextID
	p.nextID++
	remaining := -1
	if p.cfg.MaxCallsPerWorker > 0 {
		remaining = p.cfg.MaxCallsPerWorker
	}
	w := &worker{
		id:             id,
		pool:           p,
		cmd:            cmd,
		callsRemaining: remaining,
	}
	w.argBS = reactor.NewBytestream(-1, int(argsW.Fd()))
	w.resultBS = reactor.NewBytestream(int(resultR.Fd()), -1, reactor.WithConsumer(w.consume))
	w.resultBS.OnClosed(func(err error) { w.onResultClosed(err) })

	if err := p.AddChild(&w.argBS.Notifier); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	if err := p.AddChild(&w.resultBS.Notifier); err != nil {
		_ = p.RemoveChild(&w.argBS.Notifier)
		_ = cmd.Process.Kill()
		return nil, err
	}

	p.workers[id] = w
	return w, nil
}

// Stop requests every worker exit: it closes each worker's argument pipe
// once drained, letting each worker's own loop see end-of-input and exit.
func (p *Pool) Stop() {
	p.closed = true
	for _, w := range p.workers {
		w.argBS.CloseWhenEmpty()
	}
}
