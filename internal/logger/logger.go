// Package logger provides leveled logging for the agent runtime. A single
// global logger is shared by default; components that want a package tag use
// WithPrefix.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables all logging
	LevelNone
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
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown strings map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "none", "NONE":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger writes timestamped, leveled log lines to a file or writer.
type Logger struct {
	mu       sync.RWMutex
	level    Level
	logger   *log.Logger
	prefix   string
	file     *os.File
	disabled bool
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Init initializes the global logger. Subsequent calls are no-ops.
func Init(level Level, logPath string) error {
	var err error
	once.Do(func() {
		globalLogger, err = New(level, logPath, "")
	})
	return err
}

// New creates a Logger writing to logPath. An empty path or LevelNone yields
// a no-op logger.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	l := &Logger{level: level, prefix: prefix}

	if level == LevelNone || logPath == "" {
		l.logger = log.New(io.Discard, "", 0)
		l.disabled = true
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.logger = log.New(file, "", 0)
	return l, nil
}

// NewWriter creates a Logger writing to an arbitrary writer, mainly for tests.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{level: level, logger: log.New(w, "", 0), prefix: prefix}
}

// Global returns the global logger instance. Before Init it is a silent
// logger, so library code can always log unconditionally.
func Global() *Logger {
	if globalLogger == nil {
		globalLogger = &Logger{
			level:    LevelNone,
			logger:   log.New(io.Discard, "", 0),
			disabled: true,
		}
	}
	return globalLogger
}

// WithPrefix returns a logger that tags every line with the given prefix,
// nested under any existing prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}

	return &Logger{
		level:    l.level,
		logger:   l.logger,
		prefix:   newPrefix,
		file:     l.file,
		disabled: l.disabled,
	}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.disabled || level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	l.logger.Printf("%s [%s] %s%s", timestamp, level.String(), prefix, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Close closes the logger's underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Global convenience functions.

// WithPrefix returns the global logger tagged with the given prefix.
func WithPrefix(prefix string) *Logger {
	return Global().WithPrefix(prefix)
}

func Debug(format string, args ...interface{}) { Global().Debug(format, args...) }
func Info(format string, args ...interface{})  { Global().Info(format, args...) }
func Warn(format string, args ...interface{})  { Global().Warn(format, args...) }
func Error(format string, args ...interface{}) { Global().Error(format, args...) }
