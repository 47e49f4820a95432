package kernel

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the type used for all kernel diagnostics: a logiface logger bound
// to stumpy's JSON event implementation. Structured logging is an
// infrastructure, cross-cutting concern shared by every kernel object, so (as
// with eventloop/logging.go's package-level logger) a *Kernel carries exactly
// one Logger rather than each object configuring its own.
type Logger = logiface.Logger[*stumpy.Event]

// defaultLogger returns a disabled logger: structured logging is opt-in, and
// an unconfigured kernel must not pay formatting cost on the tick/scheduling
// hot path.
func defaultLogger() *Logger {
	return logiface.New[*stumpy.Event](
		logiface.WithLevel[*stumpy.Event](logiface.LevelDisabled),
	)
}

// NewJSONLogger builds a Logger that writes newline-delimited JSON events to
// w at the given minimum level, using stumpy as the logiface backend. This is
// the kernel's recommended way to enable diagnostics on a hosted build (the
// embedded target would instead wire an application-specific stumpy.Option
// writer, e.g. one backed by a UART ring buffer).
func NewJSONLogger(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// SetLogger installs logger as k's diagnostics sink. A nil logger restores
// the disabled default. Safe to call after New and before Start; not safe to call
// concurrently with kernel operations (it is a configuration step, not a
// runtime one).
func (k *Kernel) SetLogger(logger *Logger) {
	if logger == nil {
		logger = defaultLogger()
	}
	k.log = logger
}
