// Package errors - status reporting integration
package errors

import (
	"sync/atomic"
)

// Reporter receives built errors when reporting is active. The events
// package installs one that forwards errors onto the status bus.
type Reporter interface {
	ReportError(err *EnhancedError)
}

type reporterHolder struct {
	r Reporter
}

var (
	globalReporter     atomic.Pointer[reporterHolder]
	hasActiveReporting atomic.Bool
)

// SetReporter installs the process-wide reporter. Passing nil disables
// reporting and restores the fast build path.
func SetReporter(r Reporter) {
	if r == nil {
		globalReporter.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	globalReporter.Store(&reporterHolder{r: r})
	hasActiveReporting.Store(true)
}

// report forwards ee to the installed reporter at most once
func report(ee *EnhancedError) {
	holder := globalReporter.Load()
	if holder == nil || holder.r == nil || ee.IsReported() {
		return
	}
	holder.r.ReportError(ee)
	ee.MarkReported()
}
