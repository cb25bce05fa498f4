// Package logging writes leveled key=value lines:
//
//	2026-10-17T12:00:00.123456Z [INFO] sync: reconcile finished owner=7 created=1
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "INFO"
}

// ParseLevel accepts debug, info, warn and error; anything else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Options configures New.
type Options struct {
	Level string
	// File enables a rotating log file next to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Logger struct {
	base   *stdlog.Logger
	level  Level
	prefix string
	closer io.Closer
}

func New(opts Options) *Logger {
	var out io.Writer = os.Stderr
	var closer io.Closer
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 20),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rot)
		closer = rot
	}
	return &Logger{base: stdlog.New(out, "", 0), level: ParseLevel(opts.Level), closer: closer}
}

// NewWriter logs to w; used by tests.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{base: stdlog.New(w, "", 0), level: level}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{base: stdlog.New(io.Discard, "", 0), level: LevelError + 1}
}

// With returns a logger that prefixes every message with component.
func (l *Logger) With(component string) *Logger {
	c := *l
	if c.prefix != "" {
		c.prefix = c.prefix + "." + component
	} else {
		c.prefix = component
	}
	return &c
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(LevelInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(LevelWarn, msg, kv...) }

func (l *Logger) Error(msg string, kv ...any) { l.log(LevelError, msg, kv...) }

// Printf lets libraries that expect a printf logger (cron) write through l at info level.
func (l *Logger) Printf(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Close flushes the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) log(level Level, msg string, kv ...any) {
	if l == nil || level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteString(": ")
	}
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatValue(kv[i+1]))
	}
	l.base.Println(b.String())
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
