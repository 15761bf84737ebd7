// Package slsktest holds shared test helpers used across pkg/slsk's
// subpackages: a timeout-bounded wait helper and a Logger that
// discards everything.
package slsktest

import (
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// WaitThisOrTimeout runs fn in its own goroutine and reports whether it
// returned before limit elapsed, for bounding a component's teardown in
// tests.
func WaitThisOrTimeout(fn func(), limit time.Duration) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(limit):
		return false
	}
}

// NopLogger discards everything; tests that only care about behavior,
// not log output, construct components with this instead of the
// logrus-backed default.
type NopLogger struct{}

func (NopLogger) Info(v ...interface{})                 {}
func (NopLogger) Infof(format string, v ...interface{})  {}
func (NopLogger) Warn(v ...interface{})                 {}
func (NopLogger) Warnf(format string, v ...interface{})  {}
func (NopLogger) Error(v ...interface{})                {}
func (NopLogger) Errorf(format string, v ...interface{}) {}
func (NopLogger) Debug(v ...interface{})                {}
func (NopLogger) Debugf(format string, v ...interface{}) {}
func (NopLogger) Fatal(v ...interface{})                {}
func (NopLogger) Fatalf(format string, v ...interface{}) {}
func (l NopLogger) WithFields(types.Fields) types.Logger { return l }
func (NopLogger) ToggleDebug(value bool) bool            { return value }

var _ types.Logger = NopLogger{}
