package workerpool

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/frioux/IO-Async-sub003/wire"
)

// argsPipeFD and resultPipeFD are the dedicated pipe file descriptors a
// spawned worker process finds already open at startup, per spec §4.6:
// the worker's own stdin (0) and stdout (1) are deliberately left free
// for the user function.
const (
	argsPipeFD   = 3
	resultPipeFD = 4
)

// Main checks whether the current process was re-exec'd as a pool worker
// (a REACTOR_WORKERPOOL_CODE environment variable is present) and, if so,
// runs the receive-compute-reply loop and calls os.Exit when it completes,
// never returning. Callers put this as the first statement in their own
// main, ahead of any other startup:
//
//	func main() {
//	    workerpool.Main()
//	    // ordinary program startup continues here
//	}
func Main() {
	codeName := os.Getenv(workerCodeEnv)
	if codeName == "" {
		return
	}
	setupName := os.Getenv(workerSetupEnv)
	codecName := os.Getenv(workerCodecEnv)
	os.Exit(runWorkerProcess(codeName, setupName, codecName))
}

func runWorkerProcess(codeName, setupName, codecName string) int {
	fn, err := lookupCode(codeName)
	if err != nil {
		return 1
	}
	if setup, err := lookupSetup(setupName); err != nil {
		return 1
	} else if setup != nil {
		if err := setup(); err != nil {
			return 1
		}
	}
	codec, err := lookupCodec(codecName)
	if err != nil {
		return 1
	}

	argsPipe := os.NewFile(argsPipeFD, "workerpool-args")
	resultPipe := os.NewFile(resultPipeFD, "workerpool-result")
	defer resultPipe.Close()

	for {
		payload, err := wire.ReadFrame(argsPipe)
		if errors.Is(err, io.EOF) {
			return 0
		}
		if err != nil {
			return 1
		}

		var args []any
		result := wire.Result{Tag: wire.TagReturn}
		if err := codec.Decode(payload, &args); err != nil {
			result = wire.Result{Tag: wire.TagError, Message: err.Error()}
		} else if values, err := invoke(fn, args); err != nil {
			result = wire.Result{Tag: wire.TagError, Message: err.Error()}
		} else {
			result.Values = values
		}

		data, err := codec.Encode(result)
		if err != nil {
			return 1
		}
		if err := wire.WriteFrame(resultPipe, data); err != nil {
			return 1
		}
	}
}

// invoke runs fn, converting a panic into an error so that a crashing
// worker body reports a "error" tagged result on its way out rather than
// corrupting the frame stream with a half-written reply.
func invoke(fn Func, args []any) (values []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("workerpool: worker panic: %w", e)
			} else {
				err = fmt.Errorf("workerpool: worker panic: %v", r)
			}
		}
	}()
	return fn(args)
}
