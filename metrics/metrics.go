// Package metrics defines the sink interface components report counters and
// timings to. Components receive a Sink at construction time; there is no
// process-wide metrics singleton.
package metrics

import (
	"log/slog"
	"time"
)

// Sink receives instrumentation events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Increment adds n to the named counter.
	Increment(name string, n int)
	// Timing records an elapsed duration for the named timer.
	Timing(name string, d time.Duration)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Increment(string, int)        {}
func (Nop) Timing(string, time.Duration) {}

// Log emits every event as a structured log line. Useful until a real
// metrics backend is wired up.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Increment(name string, n int) {
	l.Logger.Debug("metric", "name", name, "count", n)
}

func (l Log) Timing(name string, d time.Duration) {
	l.Logger.Debug("metric", "name", name, "duration_ms", d.Milliseconds())
}
