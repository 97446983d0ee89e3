// Package logging wraps logrus behind the small Logger interface the
// engine and its adapters depend on, matching the shape of the teacher
// repo's definition.DefaultLogger (Info/Warn/Error/Debug/Fatal/Panic,
// plus a runtime debug toggle) over a structured backend instead of a raw
// *log.Logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging facade consumed by every engine component.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug flips debug-level logging on or off, returning the new
	// state.
	ToggleDebug(value bool) bool

	// WithFields returns a derived Logger carrying the given structured
	// fields (objtype, member_id, mapping_id, phase, ...) on every line.
	WithFields(fields Fields) Logger
}

// Fields is a thin alias over logrus.Fields so callers don't need to
// import logrus directly.
type Fields = logrus.Fields

// DefaultLogger is the logrus-backed Logger implementation used when the
// embedding application does not supply its own.
type DefaultLogger struct {
	entry *logrus.Entry
	level *logrus.Logger
}

// NewDefaultLogger builds a DefaultLogger writing to stderr in text
// format, info level by default.
func NewDefaultLogger() *DefaultLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: logrus.NewEntry(base), level: base}
}

func (l *DefaultLogger) Info(v ...interface{})                   { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})    { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                    { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})    { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                   { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{})   { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Debug(v ...interface{})                   { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{})   { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                   { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{})   { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                   { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{})   { l.entry.Panicf(format, v...) }

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.level.SetLevel(logrus.DebugLevel)
	} else {
		l.level.SetLevel(logrus.InfoLevel)
	}
	return value
}

func (l *DefaultLogger) WithFields(fields Fields) Logger {
	return &DefaultLogger{entry: l.entry.WithFields(fields), level: l.level}
}
