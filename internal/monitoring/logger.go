package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the SVM pipeline. It
// defaults to log.Printf but may be replaced by SetLogger so tests can mute or
// capture output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a logf that tags every line with "[prefix] ". The current
// package logger is looked up on each call, so a later SetLogger still applies.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	tag := "[" + prefix + "] "
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
