package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the logger handle passed into components.
type Logger = *logrus.Logger

// Fields are structured log fields.
type Fields = logrus.Fields

var (
	defaultMu     sync.RWMutex
	defaultLogger = newJSONLogger(os.Stderr, levelFromEnv())
)

func newJSONLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(level)
	return l
}

func levelFromEnv() logrus.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a config/env level name to a logrus level; unknown names mean info.
func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger creates a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level string) Logger {
	return newJSONLogger(w, ParseLevel(level))
}

// Default returns the process-wide logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Used once by the CLI after config load.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// OrDefault returns l, or the process-wide logger when l is nil.
func OrDefault(l Logger) Logger {
	if l != nil {
		return l
	}
	return Default()
}

func Log(level logrus.Level, msg string, fields map[string]any) {
	Default().WithFields(logrus.Fields(fields)).Log(level, msg)
}

func Debug(msg string, fields map[string]any) { Log(logrus.DebugLevel, msg, fields) }
func Info(msg string, fields map[string]any)  { Log(logrus.InfoLevel, msg, fields) }
func Warn(msg string, fields map[string]any)  { Log(logrus.WarnLevel, msg, fields) }
func Error(msg string, fields map[string]any) { Log(logrus.ErrorLevel, msg, fields) }
