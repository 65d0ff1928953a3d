// Package logging provides a small leveled, prefix-chaining logger used
// throughout the daemon. A nil *Logger is valid and discards everything,
// which lets internal packages accept a logger without forcing callers to
// construct one just to pass it through.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Logger is the main logger type. It writes through to an underlying
// *log.Logger, adding a dotted prefix built up via Sublogger and filtering
// messages against a configured Level. It is safe for concurrent use.
type Logger struct {
	// output is the underlying standard library logger performing the actual
	// write. It is shared by a root logger and all of its subloggers so that
	// interleaved output from multiple components stays consistent.
	output *log.Logger
	// level is the maximum level that will be emitted.
	level Level
	// prefix is the dotted component path for this logger (e.g.
	// "cluster.reconnector").
	prefix string
	// color indicates whether or not ANSI coloring should be applied to
	// warning/error output.
	color bool
}

// NewLogger creates a new root logger that writes to w at the specified
// level. Coloring is enabled automatically if w looks like it's backed by a
// terminal file descriptor that supports it.
func NewLogger(w io.Writer, level Level) *Logger {
	useColor := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Logger{
		output: log.New(w, "", log.Ldate|log.Ltime),
		level:  level,
		color:  useColor,
	}
}

// Sublogger creates a new logger sharing this logger's output and level but
// with an additional prefix component appended. A nil receiver yields a nil
// sublogger, so call chains like daemonLogger.Sublogger("cluster") remain
// safe even when logging has been disabled entirely upstream.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{
		output: l.output,
		level:  l.level,
		prefix: prefix,
		color:  l.color,
	}
}

// Level returns the logger's configured level.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

// enabled reports whether messages at the given level should be emitted.
func (l *Logger) enabled(level Level) bool {
	return l != nil && l.level >= level
}

func (l *Logger) line(level Level, text string) string {
	prefixed := text
	if l.prefix != "" {
		prefixed = fmt.Sprintf("[%s] %s", l.prefix, text)
	}
	if !l.color {
		return prefixed
	}
	switch level {
	case LevelError:
		return color.RedString("%s", prefixed)
	case LevelWarn:
		return color.YellowString("%s", prefixed)
	default:
		return prefixed
	}
}

func (l *Logger) emit(level Level, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	l.output.Output(3, l.line(level, fmt.Sprint(v...)))
}

func (l *Logger) emitf(level Level, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	l.output.Output(3, l.line(level, fmt.Sprintf(format, v...)))
}

// Error logs at LevelError.
func (l *Logger) Error(v ...interface{}) { l.emit(LevelError, v...) }

// Errorf logs at LevelError with a format string.
func (l *Logger) Errorf(format string, v ...interface{}) { l.emitf(LevelError, format, v...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(v ...interface{}) { l.emit(LevelWarn, v...) }

// Warnf logs at LevelWarn with a format string.
func (l *Logger) Warnf(format string, v ...interface{}) { l.emitf(LevelWarn, format, v...) }

// Info logs at LevelInfo.
func (l *Logger) Info(v ...interface{}) { l.emit(LevelInfo, v...) }

// Infof logs at LevelInfo with a format string.
func (l *Logger) Infof(format string, v ...interface{}) { l.emitf(LevelInfo, format, v...) }

// Debug logs at LevelDebug.
func (l *Logger) Debug(v ...interface{}) { l.emit(LevelDebug, v...) }

// Debugf logs at LevelDebug with a format string.
func (l *Logger) Debugf(format string, v ...interface{}) { l.emitf(LevelDebug, format, v...) }

// Trace logs at LevelTrace.
func (l *Logger) Trace(v ...interface{}) { l.emit(LevelTrace, v...) }

// Tracef logs at LevelTrace with a format string.
func (l *Logger) Tracef(format string, v ...interface{}) { l.emitf(LevelTrace, format, v...) }

// writer adapts a Logger + Level to an io.Writer by splitting the written
// stream on line boundaries, mirroring the framing used by child-process
// stderr/stdout forwarding elsewhere in the daemon.
type writer struct {
	logger *Logger
	level  Level
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer.Write(p)
	for {
		line, err := w.buffer.ReadString('\n')
		if err != nil {
			// Put back the incomplete fragment.
			w.buffer.Reset()
			w.buffer.WriteString(line)
			break
		}
		w.logger.emit(w.level, line[:len(line)-1])
	}
	return len(p), nil
}

// Writer returns an io.Writer that emits each line it receives at the given
// level. Useful for piping a subprocess's combined output through a
// sublogger.
func (l *Logger) Writer(level Level) io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{logger: l, level: level}
}

// Since formats a duration suitable for log lines (e.g. "3m12s").
func Since(t time.Time) string {
	return time.Since(t).Round(time.Second).String()
}
