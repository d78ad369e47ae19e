// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO", "":
		return LevelInfo, levelStr != ""
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

var currentLevel atomic.Uint32

// backend is swapped atomically so tests and the TUI can redirect output
// while the audio callback is logging.
var backend atomic.Pointer[stdlog.Logger]

func init() {
	SetOutput(os.Stderr)
	SetLevel(LevelInfo)
}

// SetOutput redirects all log output to w. Date, time and microseconds are
// always included so hit timing can be read off the log.
func SetOutput(w io.Writer) {
	backend.Store(stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds))
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// Configure sets the global level from its configuration string. Unknown
// names leave the level at Info and return an error.
func Configure(level string) error {
	l, ok := ParseLevel(level)
	SetLevel(l)
	if !ok && level != "" {
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

func output(level LogLevel, prefix, msg string) {
	// Pad INFO/WARN so messages line up with DEBUG/ERROR.
	pad := ""
	if len(level.String()) == 4 {
		pad = " "
	}
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	backend.Load().Printf("[%s]%s %s", level, pad, msg)
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...interface{}) {
	if shouldLog(LevelDebug) {
		output(LevelDebug, "", fmt.Sprintf(format, v...))
	}
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...interface{}) {
	if shouldLog(LevelInfo) {
		output(LevelInfo, "", fmt.Sprintf(format, v...))
	}
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...interface{}) {
	if shouldLog(LevelWarn) {
		output(LevelWarn, "", fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...interface{}) {
	if shouldLog(LevelError) {
		output(LevelError, "", fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...interface{}) {
	backend.Load().Fatalf("[%s] %s", LevelFatal, fmt.Sprintf(format, v...))
}

// --- Component loggers ---

// Logger prefixes every message with a component name, e.g.
// "[INFO]  Analysis: mode intelligent -> hybrid".
type Logger struct {
	prefix string
}

// Named returns a Logger for the given component.
func Named(component string) *Logger {
	return &Logger{prefix: component}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if shouldLog(LevelDebug) {
		output(LevelDebug, l.prefix, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if shouldLog(LevelInfo) {
		output(LevelInfo, l.prefix, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if shouldLog(LevelWarn) {
		output(LevelWarn, l.prefix, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if shouldLog(LevelError) {
		output(LevelError, l.prefix, fmt.Sprintf(format, v...))
	}
}
