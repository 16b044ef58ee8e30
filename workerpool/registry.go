// Package workerpool implements the worker-function pool of spec §4.6: a
// pool of subprocess workers, each hosting a long-lived user-supplied
// function, communicating via length-prefixed serialized frames over
// dedicated pipes, with queueing, backpressure, idle reaping, and failure
// replacement.
//
// A worker is a subprocess, not a goroutine: spec §3 requires it to
// survive a panic or infinite loop in the user function without taking
// the reactor down with it. Since Go cannot fork a running process and
// continue executing user code in the child the way the source material's
// C-backed reactor does, a worker subprocess is the current binary
// re-executed via os/exec with an environment variable telling it which
// registered Func to serve — the same self-re-exec idiom used by Go
// daemons that need an isolated child without a second binary to ship.
package workerpool

import (
	"fmt"

	"github.com/frioux/IO-Async-sub003/wire"
)

// Func is a worker-function body: invoked once per call with the
// decoded argument tuple, returning either the decoded return-value tuple
// or an error that becomes a TagError reply.
type Func func(args []any) ([]any, error)

// workerCodeEnv, workerSetupEnv and workerCodecEnv mark a re-exec'd process
// as a pool worker and name the registered Func (and, optionally, setup
// hook and codec) it should serve. Checked by Main.
const (
	workerCodeEnv  = "REACTOR_WORKERPOOL_CODE"
	workerSetupEnv = "REACTOR_WORKERPOOL_SETUP"
	workerCodecEnv = "REACTOR_WORKERPOOL_CODEC"
)

// defaultCodecName is the registry key wire.GobCodec{} is pre-registered
// under; Config.CodecName defaults to this when left empty.
const defaultCodecName = "gob"

var (
	codeRegistry  = map[string]Func{}
	setupRegistry = map[string]func() error{}
	codecRegistry = map[string]wire.Codec{
		defaultCodecName: wire.GobCodec{},
	}
)

// Register names fn so a Config.Code referring to name can be dispatched
// into a freshly spawned worker process. Intended to be called from an
// init function or early in main, before any Pool is constructed.
func Register(name string, fn Func) {
	if fn == nil {
		panic("workerpool: Register called with nil Func for " + name)
	}
	codeRegistry[name] = fn
}

// RegisterSetup names a one-time setup hook run by a worker process
// immediately after it starts, before serving any call. A setup error
// aborts the worker with a non-zero exit before it opens its pipes for
// business; the spawn itself has already succeeded, so the pool observes
// this as a worker exit and fails any call sent to it as "closed".
func RegisterSetup(name string, fn func() error) {
	if fn == nil {
		panic("workerpool: RegisterSetup called with nil func for " + name)
	}
	setupRegistry[name] = fn
}

// RegisterCodec names a wire.Codec so a Config.CodecName referring to name
// can be resolved inside a freshly spawned worker process. A worker
// subprocess is a separate re-exec'd binary, so a Codec value configured on
// the parent's Pool can't cross the fork/exec boundary directly — it is
// instead looked up by name on both sides, the same way Code and Setup are.
// wire.GobCodec{} is pre-registered under the name "gob". Intended to be
// called from an init function or early in main, before any Pool is
// constructed.
func RegisterCodec(name string, codec wire.Codec) {
	if codec == nil {
		panic("workerpool: RegisterCodec called with nil Codec for " + name)
	}
	codecRegistry[name] = codec
}

func lookupCode(name string) (Func, error) {
	fn, ok := codeRegistry[name]
	if !ok {
		return nil, fmt.Errorf("workerpool: no Func registered under %q", name)
	}
	return fn, nil
}

func lookupSetup(name string) (func() error, error) {
	if name == "" {
		return nil, nil
	}
	fn, ok := setupRegistry[name]
	if !ok {
		return nil, fmt.Errorf("workerpool: no setup func registered under %q", name)
	}
	return fn, nil
}

func lookupCodec(name string) (wire.Codec, error) {
	if name == "" {
		name = defaultCodecName
	}
	codec, ok := codecRegistry[name]
	if !ok {
		return nil, fmt.Errorf("workerpool: no Codec registered under %q", name)
	}
	return codec, nil
}
