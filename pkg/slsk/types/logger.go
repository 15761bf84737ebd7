package types

// Logger is the logging seam every component takes at construction
// time, never a package-level logger. Implementations are expected to
// be safe for concurrent use from any goroutine.
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

	// WithFields returns a Logger that prepends the given structured
	// fields to every subsequent call, without mutating the receiver.
	WithFields(fields Fields) Logger

	// ToggleDebug enables or disables Debug/Debugf output and returns
	// the resulting state.
	ToggleDebug(value bool) bool
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}
