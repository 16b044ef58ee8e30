package reactor

import (
	"bytes"
	"errors"

	"golang.org/x/sys/unix"
)

// Consumer is the incremental parser callback spec §4.5 describes: invoked
// with the accumulated, not-yet-consumed input and an eof flag. The
// callback is responsible for removing the bytes it has fully consumed
// from buf itself (e.g. via buf.Next or buf.Truncate).
type Consumer func(buf *bytes.Buffer, eof bool) ConsumeResult

type consumeKind int

const (
	consumeNeedData consumeKind = iota
	consumeMore
	consumeHandoff
)

// ConsumeResult is the three-state sum type spec §4.5 calls a
// "transfer-of-control token": ConsumeMore ("consumed a complete unit,
// call me again"), ConsumeNeedData ("stop until more bytes arrive"), or a
// ConsumeHandoff to a different Consumer (layering a per-request parser
// on top of a framing one).
type ConsumeResult struct {
	kind consumeKind
	next Consumer
}

// ConsumeMore signals that a complete unit was consumed; the reactor
// calls the same consumer again immediately.
var ConsumeMore = ConsumeResult{kind: consumeMore}

// ConsumeNeedData signals that the consumer needs more bytes before it can
// make progress; the reactor waits for the next read-ready event.
var ConsumeNeedData = ConsumeResult{kind: consumeNeedData}

// ConsumeHandoff replaces the active consumer with next, effective
// immediately: next is invoked at once and stays the active consumer for
// all later input. The previous consumer is not reinstated automatically;
// next hands control back by returning ConsumeHandoff itself.
func ConsumeHandoff(next Consumer) ConsumeResult {
	return ConsumeResult{kind: consumeHandoff, next: next}
}

var errNoHandle = errors.New("reactor: bytestream requires at least one of a read or write handle")

// Bytestream is the buffered, bidirectional byte-stream notifier of spec
// §3/§4.5: an incoming and outgoing buffer over an arbitrary pair of
// read/write descriptors, driven by a Consumer and a close-when-drained
// discipline.
type Bytestream struct {
	Notifier

	readFD, writeFD       int
	hasReadFD, hasWriteFD bool
	writeWatched          bool

	inBuf  bytes.Buffer
	outBuf bytes.Buffer

	consumer       Consumer
	scratchSize    int
	closeWhenEmpty bool
	closed         bool
	truncated      bool
	flushCBs       []func()

	closedCB    func(err error)
	truncatedCB func()
}

// NewBytestream constructs a Bytestream over readFD/writeFD (either may be
// -1 to mean "no handle on that side", e.g. a write-only pipe end); at
// least one of the two must be valid.
func NewBytestream(readFD, writeFD int, opts ...BytestreamOption) *Bytestream {
	cfg := resolveBytestreamOptions(opts)
	bs := &Bytestream{
		readFD:      readFD,
		writeFD:     writeFD,
		hasReadFD:   readFD >= 0,
		hasWriteFD:  writeFD >= 0,
		consumer:    cfg.consumer,
		scratchSize: cfg.scratchSize,
	}
	InitNotifier(&bs.Notifier, bs)
	return bs
}

// OnClosed registers a callback invoked exactly once when the stream
// closes, either gracefully (err == nil), due to a fatal I/O error, or with
// the error a failing consumer raised.
func (bs *Bytestream) OnClosed(cb func(err error)) { bs.closedCB = cb }

// OnTruncated registers a callback invoked if the stream hits EOF with
// unconsumed bytes still buffered (spec §4.5's "truncated" condition).
func (bs *Bytestream) OnTruncated(cb func()) { bs.truncatedCB = cb }

func (bs *Bytestream) Configure() error {
	if !bs.hasReadFD && !bs.hasWriteFD {
		return NewConfigError("Bytestream.configure", errNoHandle)
	}
	return nil
}

func (bs *Bytestream) AttachIO(r *Reactor) {
	if bs.hasReadFD {
		_ = setNonblock(bs.readFD)
		_ = r.fds.watchIO(bs.readFD, ioCallbacks{read: bs.onReadReady, hangup: bs.onHangup})
	}
	if bs.hasWriteFD && bs.writeFD != bs.readFD {
		_ = setNonblock(bs.writeFD)
		// a write-only handle (no read side sharing this fd) still needs its
		// own hangup watch: the peer closing its read end surfaces here, not
		// on a readFD this Bytestream doesn't have. Per spec §9's resolution,
		// with no distinct hangup callback of its own this always falls
		// through to the closed callback, same as a read-side hangup does.
		_ = r.fds.watchIO(bs.writeFD, ioCallbacks{hangup: bs.onHangup})
	}
	bs.updateWriteInterest()
}

func (bs *Bytestream) DetachIO(r *Reactor) {
	if bs.hasReadFD {
		_ = r.fds.unwatchIO(bs.readFD, true, bs.readFD == bs.writeFD, true)
	}
	if bs.hasWriteFD && bs.writeFD != bs.readFD {
		_ = r.fds.unwatchIO(bs.writeFD, false, true, true)
	}
}

// Write appends p to the outgoing buffer and declares write interest. If
// flushCB is non-nil it is queued and invoked, in FIFO order alongside any
// other queued flush callbacks, the next time the outgoing buffer fully
// drains.
func (bs *Bytestream) Write(p []byte, flushCB func()) {
	bs.outBuf.Write(p)
	if flushCB != nil {
		bs.flushCBs = append(bs.flushCBs, flushCB)
	}
	bs.updateWriteInterest()
}

// CloseWhenEmpty arms the deferred-close flag: once the outgoing buffer
// drains, the stream closes and detaches. Idempotent, per the Open
// Question resolution in spec §9 — a second call is a no-op.
func (bs *Bytestream) CloseWhenEmpty() {
	if bs.closeWhenEmpty {
		return
	}
	bs.closeWhenEmpty = true
	if bs.outBuf.Len() == 0 {
		bs.performClose(nil)
		return
	}
	bs.updateWriteInterest()
}

func (bs *Bytestream) wantWriteReady() bool {
	return bs.outBuf.Len() > 0 || (bs.closeWhenEmpty && !bs.closed)
}

func (bs *Bytestream) updateWriteInterest() {
	if bs.closed || !bs.Attached() || !bs.hasWriteFD {
		return
	}
	want := bs.wantWriteReady()
	if want == bs.writeWatched {
		return
	}
	r := bs.Reactor()
	if want {
		_ = r.fds.watchIO(bs.writeFD, ioCallbacks{write: bs.onWriteReady})
	} else {
		_ = r.fds.unwatchIO(bs.writeFD, false, true, false)
	}
	bs.writeWatched = want
}

// onReadReady implements spec §4.5's read path: drain the descriptor into
// scratch-sized chunks, appending each to the input buffer and running the
// consumer after every successful append, until EOF or would-block.
func (bs *Bytestream) onReadReady() {
	scratch := make([]byte, bs.scratchSize)
	for {
		n, err := unix.Read(bs.readFD, scratch)
		if n > 0 {
			bs.inBuf.Write(scratch[:n])
			if bs.pumpConsumer(false) {
				return // bytestream closed itself mid-pump (consumer error)
			}
		}
		if n == 0 {
			bs.finishRead()
			return
		}
		if err != nil {
			if isWouldBlock(err) || isInterrupted(err) {
				return
			}
			bs.performClose(&FatalIOError{Op: "Bytestream.read", Fd: bs.readFD, Cause: err})
			return
		}
	}
}

// pumpConsumer repeatedly invokes the active consumer while it returns
// ConsumeMore or hands off to a new consumer, stopping on ConsumeNeedData.
// Returns true if a consumer error closed the stream.
func (bs *Bytestream) pumpConsumer(eof bool) bool {
	for bs.consumer != nil {
		res, err := bs.invokeConsumer(eof)
		if err != nil {
			bs.reportConsumerError(err)
			return true
		}
		switch res.kind {
		case consumeMore:
			continue
		case consumeHandoff:
			bs.consumer = res.next
			continue
		default:
			return false
		}
	}
	return false
}

func (bs *Bytestream) invokeConsumer(eof bool) (res ConsumeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.New("reactor: consumer panic")
			}
		}
	}()
	res = bs.consumer(&bs.inBuf, eof)
	return res, nil
}

func (bs *Bytestream) reportConsumerError(err error) {
	if r := bs.Reactor(); r != nil {
		r.reportError(&CallbackError{Cause: err})
	}
	bs.performClose(err)
}

// finishRead implements the EOF branch of spec §4.5's read path: one final
// consumer invocation with eof=true, then discard any unconsumed bytes
// (signaling "truncated"), then close the read side.
func (bs *Bytestream) finishRead() {
	if bs.consumer != nil {
		res, err := bs.invokeConsumer(true)
		if err != nil {
			bs.reportConsumerError(err)
			return
		}
		if res.kind == consumeHandoff {
			bs.consumer = res.next
		}
	}
	if bs.inBuf.Len() > 0 {
		bs.inBuf.Reset()
		bs.truncated = true
		if bs.truncatedCB != nil {
			if err := safeExecute(bs.truncatedCB); err != nil {
				if r := bs.Reactor(); r != nil {
					r.reportError(err)
				}
			}
		}
	}
	if bs.hasWriteFD {
		// only the read side closes here; the stream itself closes once any
		// pending output has drained.
		if r := bs.Reactor(); r != nil {
			_ = r.fds.unwatchIO(bs.readFD, true, false, true)
		}
		if bs.readFD != bs.writeFD {
			_ = unix.Close(bs.readFD)
			bs.hasReadFD = false
		}
		bs.CloseWhenEmpty()
		return
	}
	bs.performClose(nil)
}

// onWriteReady implements spec §4.5's write path.
func (bs *Bytestream) onWriteReady() {
	for bs.outBuf.Len() > 0 {
		n, err := unix.Write(bs.writeFD, bs.outBuf.Bytes())
		if n > 0 {
			bs.outBuf.Next(n)
		}
		if err != nil {
			if isWouldBlock(err) || isInterrupted(err) {
				break
			}
			bs.performClose(&FatalIOError{Op: "Bytestream.write", Fd: bs.writeFD, Cause: err})
			return
		}
		if n == 0 {
			break
		}
	}
	if bs.outBuf.Len() == 0 {
		cbs := bs.flushCBs
		bs.flushCBs = nil
		for _, cb := range cbs {
			if err := safeExecute(cb); err != nil {
				if r := bs.Reactor(); r != nil {
					r.reportError(err)
				}
			}
		}
		if bs.closeWhenEmpty && !bs.closed {
			bs.performClose(nil)
			return
		}
	}
	bs.updateWriteInterest()
}

func (bs *Bytestream) onHangup() {
	bs.performClose(nil)
}

// performClose is the single path to closing a Bytestream: it detaches
// from the reactor (which unwatches both fds), closes the underlying
// descriptors, and invokes the closed callback exactly once.
func (bs *Bytestream) performClose(err error) {
	if bs.closed {
		return
	}
	bs.closed = true
	bs.Detach()
	if bs.hasReadFD {
		_ = unix.Close(bs.readFD)
	}
	if bs.hasWriteFD && bs.writeFD != bs.readFD {
		_ = unix.Close(bs.writeFD)
	}
	if bs.closedCB != nil {
		bs.closedCB(err)
	}
}
