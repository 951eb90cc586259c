// Package logctx is the process-scoped logging registry assumed by
// spec.md §1 ("a context-registry abstraction is assumed"). It wraps
// charmbracelet/log: one coloured logger per process, named
// sub-loggers per component, and throttled variants for the handful of
// call sites spec.md requires to suppress log spam (FD-signal EAGAIN,
// mirror-buffer repeated TimeOut).
package logctx

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	root = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})

	mu        sync.Mutex
	throttles = map[string]int{}
)

func init() {
	if lvl := os.Getenv("DBG_LVL"); lvl != "" {
		if l, err := log.ParseLevel(lvl); err == nil {
			root.SetLevel(l)
		}
	}
}

// For returns a named sub-logger for one component, structured rather
// than textual.
func For(component string) *log.Logger {
	l := root.With("component", component)
	if id := os.Getenv("DBG_ID"); id != "" {
		l = l.With("id", id)
	}
	return l
}

// Throttle reports whether the call at key should actually log, given it
// may only fire every `every` occurrences. The first and every Nth
// occurrence return true. One mechanism covers both spec.md §4.2's
// "logged once, then suppressed" (FD-signal EAGAIN) and its
// "throttled-logged every 50 hits" (mirror-buffer TimeOut) cases.
func Throttle(key string, every int) bool {
	if every <= 0 {
		every = 1
	}
	mu.Lock()
	defer mu.Unlock()
	n := throttles[key]
	throttles[key] = n + 1
	return n%every == 0
}

// ResetThrottle clears a throttle counter, primarily for tests.
func ResetThrottle(key string) {
	mu.Lock()
	defer mu.Unlock()
	delete(throttles, key)
}
