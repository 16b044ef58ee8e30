// logging.go - structured logging for the reactor package.
//
// This follows the shape of the teacher's logging.go: a small interface
// plus a package-level default sink, so that every subsystem can log
// without depending on a concrete backend. Unlike the teacher, the default
// implementation here is backed by github.com/joeycumines/logiface (a
// chainable structured-logging facade) with a stumpy JSON event as the
// concrete [logiface.Event], rather than a hand-rolled formatter.
package reactor

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the logging sink used throughout the reactor package. kv must
// be an even-length list of alternating string keys and values.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   Logger = nopLogger{}
)

// SetDefaultLogger sets the package-level logger used by reactors and
// components constructed without an explicit WithLogger option.
func SetDefaultLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

func getDefaultLogger() Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// stumpyLogger adapts a *logiface.Logger[*stumpy.Event] to Logger.
type stumpyLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewJSONLogger returns a Logger that writes newline-delimited JSON events
// to w, using stumpy as the logiface backend.
func NewJSONLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := stumpy.L.New(
		stumpy.WithStumpy(stumpy.WithWriter(w)),
	)
	return &stumpyLogger{l: l}
}

func logWithFields(b *logiface.Builder[*stumpy.Event], msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		val := kv[i+1]
		if err, ok := val.(error); ok {
			b = b.Err(err)
			continue
		}
		b = b.Any(key, val)
	}
	b.Log(msg)
}

func (s *stumpyLogger) Debug(msg string, kv ...any) { logWithFields(s.l.Debug(), msg, kv) }
func (s *stumpyLogger) Info(msg string, kv ...any)  { logWithFields(s.l.Info(), msg, kv) }
func (s *stumpyLogger) Warn(msg string, kv ...any)  { logWithFields(s.l.Warning(), msg, kv) }
func (s *stumpyLogger) Error(msg string, kv ...any) { logWithFields(s.l.Err(), msg, kv) }
