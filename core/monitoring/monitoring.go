// Package monitoring reports engine errors to an external tracker. The
// default monitor discards everything; the service swaps in a real one
// at startup. Callers use the package-level functions so core packages
// never depend on a concrete backend.
package monitoring

import "time"

// Monitor receives errors worth an operator's attention.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover()
	Flush(timeout time.Duration)
}

// NopMonitor drops every report.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

var current Monitor = NopMonitor{}

// Init installs the monitor used by the package-level functions.
// A nil monitor leaves the current one in place.
func Init(m Monitor) {
	if m != nil {
		current = m
	}
}

// CaptureException records err with optional tags. Nil errors are
// ignored by the implementations.
func CaptureException(err error, tags map[string]string) {
	if current != nil {
		current.CaptureException(err, tags)
	}
}

// Recover forwards a goroutine panic to the monitor. Call it deferred.
func Recover() {
	if current != nil {
		current.Recover()
	}
}

// Flush blocks until buffered reports are delivered or the timeout
// elapses.
func Flush(d time.Duration) {
	if current != nil {
		current.Flush(d)
	}
}
