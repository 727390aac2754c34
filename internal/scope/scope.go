// Package scope provides scope-guarded resource handles: wrappers that
// guarantee a native resource is released exactly once, on every exit path
// from the scope that acquired it.
//
// This formalizes the "acquire in a constructor, defer the release" idiom
// used throughout the teacher codebase (e.g. build.Builder.Finish, called
// via defer immediately after construction) as a reusable type. The other
// packages of this repository release their handles (directory file
// descriptors, opened files) with plain defer statements rather than
// through this package.
package scope

import "sync"

// Handle wraps a release function so it runs at most once.
type Handle struct {
	once    sync.Once
	release func()
}

// New wraps release in a Handle. release must be idempotent-safe to call
// zero times (it is only called when Close is invoked).
func New(release func()) *Handle {
	return &Handle{release: release}
}

// Close runs the release function, if it has not already run.
func (h *Handle) Close() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Guard composes multiple Handles and closes them in reverse acquisition
// order, mirroring how nested defers unwind.
type Guard struct {
	handles []*Handle
}

// Add registers a Handle with the guard.
func (g *Guard) Add(h *Handle) {
	g.handles = append(g.handles, h)
}

// Defer is a convenience for Add(New(release)).
func (g *Guard) Defer(release func()) {
	g.Add(New(release))
}

// Close releases every registered handle in reverse order. Safe to call
// multiple times; each Handle only releases once.
func (g *Guard) Close() {
	for i := len(g.handles) - 1; i >= 0; i-- {
		g.handles[i].Close()
	}
}
