package definition

import (
	"github.com/sirupsen/logrus"

	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// DefaultLogger is the Logger implementation installed when a caller
// does not provide their own. It wraps a *logrus.Entry so every line
// carries whatever structured fields WithFields attached.
type DefaultLogger struct {
	entry *logrus.Entry
	level *loggerLevel
}

// loggerLevel is shared by every DefaultLogger derived from the same
// root via WithFields, so ToggleDebug affects the whole family.
type loggerLevel struct {
	logger *logrus.Logger
}

// NewDefaultLogger builds a DefaultLogger writing to stderr at Info
// level; debug output is off until ToggleDebug(true) is called.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{
		entry: logrus.NewEntry(l),
		level: &loggerLevel{logger: l},
	}
}

func (l *DefaultLogger) WithFields(fields types.Fields) types.Logger {
	return &DefaultLogger{
		entry: l.entry.WithFields(logrus.Fields(fields)),
		level: l.level,
	}
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.level.logger.SetLevel(logrus.DebugLevel)
	} else {
		l.level.logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

func (l *DefaultLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                 { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Debug(v ...interface{})                { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

var _ types.Logger = (*DefaultLogger)(nil)
