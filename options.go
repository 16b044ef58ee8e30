package reactor

import "time"

// reactorOptions holds configuration resolved from ReactorOption values.
type reactorOptions struct {
	logger    Logger
	errorSink func(error)
}

// ReactorOption configures a Reactor at construction time.
type ReactorOption interface {
	applyReactor(*reactorOptions)
}

type reactorOptionFunc func(*reactorOptions)

func (f reactorOptionFunc) applyReactor(o *reactorOptions) { f(o) }

// WithLogger overrides the package default logger for one Reactor instance.
func WithLogger(l Logger) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithErrorSink registers the function invoked for callback failures and
// signal dispatch failures (spec §7's propagation policy). The reactor
// never stops because of these; a nil sink discards them.
func WithErrorSink(sink func(error)) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) {
		o.errorSink = sink
	})
}

func resolveReactorOptions(opts []ReactorOption) *reactorOptions {
	cfg := &reactorOptions{
		logger: getDefaultLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyReactor(cfg)
	}
	return cfg
}

// bytestreamOptions holds configuration resolved from BytestreamOption
// values.
type bytestreamOptions struct {
	scratchSize int
	consumer    Consumer
}

// BytestreamOption configures a Bytestream at construction time.
type BytestreamOption interface {
	applyBytestream(*bytestreamOptions)
}

type bytestreamOptionFunc func(*bytestreamOptions)

func (f bytestreamOptionFunc) applyBytestream(o *bytestreamOptions) { f(o) }

// WithScratchSize sets the size of the scratch buffer used for each read(2)
// call. Per spec §4.5 this must be at least 8192; smaller values are
// rounded up.
func WithScratchSize(n int) BytestreamOption {
	return bytestreamOptionFunc(func(o *bytestreamOptions) {
		if n > o.scratchSize {
			o.scratchSize = n
		}
	})
}

// WithConsumer installs the initial consumer callback for a Bytestream.
func WithConsumer(c Consumer) BytestreamOption {
	return bytestreamOptionFunc(func(o *bytestreamOptions) {
		o.consumer = c
	})
}

func resolveBytestreamOptions(opts []BytestreamOption) *bytestreamOptions {
	cfg := &bytestreamOptions{
		scratchSize: minScratchSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyBytestream(cfg)
	}
	return cfg
}

const minScratchSize = 8192

// pollTimeoutCeiling bounds how long a single Reactor.runOnce iteration may
// block, independent of the nearest timer deadline; it exists so a reactor
// embedded inside a larger program can still be woken for shutdown checks.
const pollTimeoutCeiling = 10 * time.Second
