// Package monitoring holds the diagnostic hooks shared by the capture
// pipeline: a replaceable log function and the Prometheus collectors.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger used by library code that
// tests need to silence (capture pipeline, migrations). It defaults to
// log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a log function that routes through Logf with a
// "[component] " prefix, resolved at call time so later SetLogger calls
// still take effect.
func Prefixed(component string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s] ", component)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
