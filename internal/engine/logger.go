package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFunc is a log sink with slog-style alternating key/value arguments.
type LogFunc func(msg string, args ...any)

// DefaultSinks writes info lines to stdout and error lines to stderr.
func DefaultSinks() (info, errf LogFunc) {
	out := slog.New(slog.NewTextHandler(os.Stdout, nil))
	errLog := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return out.Info, errLog.Error
}

// SlogSinks routes both sinks through l.
func SlogSinks(l *slog.Logger) (info, errf LogFunc) {
	return l.Info, l.Error
}

// DiscardSinks drops everything; the context buffers still record each line.
func DiscardSinks() (info, errf LogFunc) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	return l.Info, l.Error
}

// StepLogger is handed to handlers through Meta. Every line goes to the
// injected sink and to the context's own Log/Err buffer.
type StepLogger struct {
	rc    *RunContext
	info  LogFunc
	errf  LogFunc
	attrs []any
}

func newStepLogger(rc *RunContext, info, errf LogFunc, attrs ...any) *StepLogger {
	return &StepLogger{rc: rc, info: info, errf: errf, attrs: attrs}
}

// Info logs an informational line. A nil logger drops it.
func (l *StepLogger) Info(msg string, args ...any) {
	if l == nil {
		return
	}
	all := append(append([]any{}, l.attrs...), args...)
	l.rc.Runtime.Log = append(l.rc.Runtime.Log, formatLine(msg, all))
	if l.info != nil {
		l.info(msg, all...)
	}
}

// Error logs an error line. A nil logger drops it.
func (l *StepLogger) Error(msg string, args ...any) {
	if l == nil {
		return
	}
	all := append(append([]any{}, l.attrs...), args...)
	l.rc.Runtime.Err = append(l.rc.Runtime.Err, formatLine(msg, all))
	if l.errf != nil {
		l.errf(msg, all...)
	}
}

// Infof logs a formatted informational line.
func (l *StepLogger) Infof(format string, a ...any) { l.Info(fmt.Sprintf(format, a...)) }

// Errorf logs a formatted error line.
func (l *StepLogger) Errorf(format string, a ...any) { l.Error(fmt.Sprintf(format, a...)) }

func formatLine(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&b, " !BADKEY=%v", args[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}
