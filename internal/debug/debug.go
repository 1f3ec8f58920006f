// Package debug provides env-gated diagnostic logging. Everything goes to
// stderr: stdout carries the JSON-RPC protocol and must stay clean.
package debug

import (
	"fmt"
	"os"
)

var (
	enabled     = os.Getenv("GRIDBASE_DEBUG") != ""
	verboseMode = false
)

// Enabled reports whether debug logging is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables debug output regardless of the environment.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// Logf writes a debug line to stderr when debug logging is active.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Errorf always writes to stderr, debug mode or not. Used for degraded-mode
// notices that an operator should see.
func Errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}
