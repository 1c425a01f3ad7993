package util

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type LogLevel int32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"trace":   LevelTrace,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var logrusLevels = map[LogLevel]logrus.Level{
	LevelTrace: logrus.TraceLevel,
	LevelDebug: logrus.DebugLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelError: logrus.ErrorLevel,
}

// Logger wraps a logrus logger behind the small level-aware API used across the daemon.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger creates a level-aware logger writing to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a level-aware logger writing to the provided destination.
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		DisableColors:    true,
		DisableQuote:     true,
		QuoteEmptyFields: true,
	})
	l := &Logger{base: base, entry: logrus.NewEntry(base)}
	l.SetLevel(level)
	return l
}

// With returns a logger that attaches the component field to every line.
func (l *Logger) With(component string) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithField("component", component)}
}

func (l *Logger) SetLevel(level LogLevel) {
	lvl, ok := logrusLevels[level]
	if !ok {
		lvl = logrus.InfoLevel
	}
	l.base.SetLevel(lvl)
}

func (l *Logger) Level() LogLevel {
	current := l.base.GetLevel()
	for level, lvl := range logrusLevels {
		if lvl == current {
			return level
		}
	}
	return LevelInfo
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// ParseLogLevel converts a string into a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return LevelInfo
}
