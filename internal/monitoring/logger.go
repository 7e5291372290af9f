// Package monitoring holds the process-wide diagnostic logger used by the
// capture and detection loops.
package monitoring

import "log"

// Logf is the diagnostic logger for background loops. It defaults to
// log.Printf; tests replace it via SetLogger to capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
