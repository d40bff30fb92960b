// Package monitoring holds the process-wide diagnostic logger shared by the
// pipeline stages and the tracker backends.
package monitoring

import (
	"log"
	"sync"
)

var mu sync.RWMutex

// logf is the active sink. It defaults to log.Printf and may be replaced by
// SetLogger so tests can capture or mute output.
var logf = log.Printf

// Logf writes a diagnostic line through the active sink.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the sink. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

// Component returns a logger that prefixes every line with "[name] ".
// The sink is resolved at call time, so SetLogger affects loggers that were
// created earlier.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
