package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	SILENT
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

var levelColors = [...]string{
	"\033[36m", // cyan
	"\033[32m", // green
	"\033[33m", // yellow
	"\033[31m", // red
	"",
}

const resetColor = "\033[0m"

// Logger writes leveled, module-tagged log lines.
type Logger struct {
	mu       sync.Mutex
	level    Level
	out      io.Writer
	useColor bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init sets up the process-wide logger. Call once at startup.
func Init(level Level, out io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, out, useColor)
	})
}

// New creates a Logger writing to out (os.Stderr if nil).
func New(level Level, out io.Writer, useColor bool) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{level: level, out: out, useColor: useColor}
}

// SetLevel changes the minimum level that is emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) log(level Level, module, format string, args ...any) {
	if level >= SILENT {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	tag := "[" + levelNames[level] + "]"
	if l.useColor {
		tag = levelColors[level] + tag + resetColor
	}
	if module != "" {
		tag = tag + " [" + module + "]"
	}

	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	fmt.Fprintf(l.out, "%s %s %s\n", ts, tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(module, format string, args ...any) { l.log(DEBUG, module, format, args...) }
func (l *Logger) Info(module, format string, args ...any)  { l.log(INFO, module, format, args...) }
func (l *Logger) Warn(module, format string, args ...any)  { l.log(WARN, module, format, args...) }
func (l *Logger) Error(module, format string, args ...any) { l.log(ERROR, module, format, args...) }

// Package-level helpers using the default logger.

func Debug(module, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

func Info(module, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

func Warn(module, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

func Error(module, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a level name ("debug", "info", ...).
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the level name.
func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}
