// Package logutil implements the G2 logging façade (spec.md §4 table, row
// G2: "severity-tagged line sink"), a thin wrapper over
// github.com/sourcegraph/log matching the teacher's cmd/zoekt-webserver
// initialization idiom (log.Init once at startup, log.Scoped per
// component).
package logutil

import (
	"sync"

	"github.com/sourcegraph/log"
)

var initOnce sync.Once

// Init sets up the global logging backend. It must be called exactly once,
// before any Scoped logger is used; subsequent calls are no-ops.
func Init(name string) {
	initOnce.Do(func() {
		syncLogs := log.Init(log.Resource{Name: name})
		_ = syncLogs // discarded: logs are not explicitly flushed at exit
	})
}

// Scoped returns a logger tagged with component, matching the severity
// levels the teacher's services log at (Debug/Info/Warn/Error).
func Scoped(component string) log.Logger {
	return log.Scoped(component)
}
