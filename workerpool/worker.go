package workerpool

import (
	"bytes"
	"encoding/binary"
	"os/exec"

	reactor "github.com/frioux/IO-Async-sub003"
	"github.com/frioux/IO-Async-sub003/wire"
)

// worker is the parent-side half of a spawned worker subprocess, per spec
// §3: a completion FIFO, a busy flag, and a remaining-calls counter. Its
// two pipe ends are driven as ordinary reactor.Bytestreams, children of
// the owning Pool's notifier.
type worker struct {
	id   int
	pool *Pool
	cmd  *exec.Cmd

	argBS    *reactor.Bytestream // write-only: pool -> worker
	resultBS *reactor.Bytestream // read-only: worker -> pool

	busy           bool
	retiring       bool
	completions    []Completion
	callsRemaining int // -1 means unlimited
}

// consume is installed as resultBS's Consumer: it parses one
// length-prefixed frame at a time out of the accumulated buffer, per the
// wire protocol in spec §6.
func (w *worker) consume(buf *bytes.Buffer, eof bool) reactor.ConsumeResult {
	payload, ok := tryReadFrame(buf)
	if !ok {
		return reactor.ConsumeNeedData
	}
	w.onFrame(payload)
	return reactor.ConsumeMore
}

// tryReadFrame parses one length-prefixed frame from the front of buf if
// a complete one is present, leaving buf untouched otherwise.
func tryReadFrame(buf *bytes.Buffer) ([]byte, bool) {
	b := buf.Bytes()
	if len(b) < 4 {
		return nil, false
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	if len(b) < 4+n {
		return nil, false
	}
	buf.Next(4)
	payload := make([]byte, n)
	copy(payload, buf.Next(n))
	return payload, true
}

// onFrame handles one decoded result frame arriving from the worker, per
// spec §4.6 step 3: pop the head completion, mark non-busy, decrement the
// remaining-calls counter, invoke the completion, then run post-dispatch.
func (w *worker) onFrame(payload []byte) {
	if len(w.completions) == 0 {
		return
	}
	completion := w.completions[0]
	w.completions = w.completions[1:]
	w.busy = false

	var result wire.Result
	failure := (*reactor.WorkerFailure)(nil)
	if err := w.pool.codec.Decode(payload, &result); err != nil {
		failure = &reactor.WorkerFailure{Kind: reactor.WorkerFailureClosed, Cause: err}
	} else if result.Tag == wire.TagError {
		failure = &reactor.WorkerFailure{Kind: reactor.WorkerFailureError, Cause: errString(result.Message)}
	}

	if err := safeInvoke(completion, result, failure); err != nil {
		if r := w.pool.Reactor(); r != nil {
			r.Logger().Warn("workerpool: completion callback failed", "error", err)
		}
	}

	dieOnError := failure != nil && failure.Kind == reactor.WorkerFailureError && w.pool.cfg.ExitOnDie
	if w.callsRemaining > 0 {
		w.callsRemaining--
	}
	retireNow := dieOnError || w.callsRemaining == 0

	if retireNow && !w.retiring {
		w.pool.retireWorker(w)
	}
	w.pool.postDispatch()
}

// onResultClosed fires when the worker's result pipe closes, whether
// because the process exited or because its pipe died — spec §4.6's
// "worker exits while its completion FIFO is non-empty" failure path.
func (w *worker) onResultClosed(err error) {
	w.pool.onWorkerExited(w, err)
}

func safeInvoke(completion Completion, res wire.Result, failure *reactor.WorkerFailure) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errString("panic in completion callback")
		}
	}()
	completion(res, failure)
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }
