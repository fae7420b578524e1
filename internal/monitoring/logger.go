// Package monitoring carries the process-wide diagnostic logger used by the
// reconstruction stages. Stages report entity counts and durations through
// Logf; tests mute it with SetLogger(nil).
package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stage logs the start of a pipeline stage and returns a function that logs
// its completion with the elapsed wall time. Typical use:
//
//	done := monitoring.Stage("normal estimation")
//	...
//	done()
func Stage(name string) func() {
	start := time.Now()
	Logf("%s: started", name)
	return func() {
		Logf("%s: finished in %s", name, time.Since(start).Round(time.Millisecond))
	}
}
