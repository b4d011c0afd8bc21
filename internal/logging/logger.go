package logging

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"

	"github.com/fatih/color"
)

// writer splits a byte stream into lines and hands each one to callback,
// the same incremental line-buffering approach mutagen-io/mutagen uses to
// adapt io.Writer-expecting code (e.g. a spawned process's stderr) into
// line-oriented logging.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func (w *writer) Write(p []byte) (int, error) {
	w.buffer = append(w.buffer, p...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(p), nil
}

// Logger is nil-safe: a nil *Logger silently discards everything, so
// components can hold a Logger field that defaults to nil in tests
// without special-casing it.
type Logger struct {
	prefix string
}

// Root is the logger every other logger in the process derives from.
var Root = &Logger{}

// Sublogger returns a new logger that prefixes every line with name,
// nested under this logger's own prefix if any.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

func (l *Logger) Print(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprint(v...))
	}
}

func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Println(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintln(v...))
	}
}

// Writer returns an io.Writer that logs each line it receives via Println.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Println(s) }}
}

func (l *Logger) Debug(v ...interface{}) {
	if l != nil && currentLevel >= LevelDebug {
		l.output(3, fmt.Sprint(v...))
	}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && currentLevel >= LevelDebug {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Debugln(v ...interface{}) {
	if l != nil && currentLevel >= LevelDebug {
		l.output(3, fmt.Sprintln(v...))
	}
}

// DebugWriter returns an io.Writer that logs each line via Debugln.
func (l *Logger) DebugWriter() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Debugln(s) }}
}

// Warn logs err with a yellow "Warning:" prefix, gated on LevelWarn.
func (l *Logger) Warn(err error) {
	if l != nil && currentLevel >= LevelWarn {
		l.output(3, color.YellowString("Warning: %v", err))
	}
}

// Error logs err with a red "Error:" prefix. Always shown.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(3, color.RedString("Error: %v", err))
	}
}
