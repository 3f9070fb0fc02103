// Package lock holds the two lock primitives the world is built on: a
// reentrant shared/exclusive lock used per chunk, and a writer-priority
// reader/writer lock for rare whole-layer operations.
package lock

import (
	"sync"
	"sync/atomic"
)

// Reentrant is a shared/exclusive lock whose exclusive holder may take it
// again, shared or exclusive, without deadlocking itself.
//
// Ownership is not inferred from the calling goroutine. Lock hands back a
// *Hold, and that token is the capability: code running under the exclusive
// lock passes it down, and any Lock/RLock made with it is satisfied without
// touching the underlying RWMutex. Callers without the token (nil) behave as
// ordinary readers and writers.
//
// Limitation: shared reentrancy is only safe for the exclusive owner. A
// non-owner that takes RLock twice while a writer is queued will deadlock,
// exactly as with sync.RWMutex. Nested shared acquisition by non-owners is
// not tracked.
type Reentrant struct {
	rw    sync.RWMutex
	owner atomic.Pointer[Hold]
}

// Hold is the token for exclusive ownership of a Reentrant. It must not be
// shared with another goroutine while held.
type Hold struct {
	l     *Reentrant
	depth int
}

// Lock acquires exclusive access. If h is the current owner's token the depth
// is incremented and h is returned; otherwise Lock blocks for the underlying
// lock and returns a new token with depth 1.
func (l *Reentrant) Lock(h *Hold) *Hold {
	if l.Holds(h) {
		h.depth++
		return h
	}
	l.rw.Lock()
	h = &Hold{l: l, depth: 1}
	l.owner.Store(h)
	return h
}

// TryLock is Lock without blocking. It reports false if another owner or any
// reader holds the lock.
func (l *Reentrant) TryLock(h *Hold) (*Hold, bool) {
	if l.Holds(h) {
		h.depth++
		return h, true
	}
	if !l.rw.TryLock() {
		return nil, false
	}
	h = &Hold{l: l, depth: 1}
	l.owner.Store(h)
	return h, true
}

// Holds reports whether h is the token of the current exclusive owner.
func (l *Reentrant) Holds(h *Hold) bool {
	return h != nil && l.owner.Load() == h && h.depth > 0
}

// RLock acquires shared access. For the exclusive owner it is a no-op.
func (l *Reentrant) RLock(h *Hold) {
	if l.Holds(h) {
		return
	}
	l.rw.RLock()
}

// RUnlock releases shared access taken with the same token.
func (l *Reentrant) RUnlock(h *Hold) {
	if l.Holds(h) {
		return
	}
	l.rw.RUnlock()
}

// Unlock releases one level of exclusive ownership. The underlying lock is
// released when the depth reaches zero.
func (h *Hold) Unlock() {
	if h == nil || h.depth <= 0 {
		panic("lock: Unlock of unheld Reentrant")
	}
	h.depth--
	if h.depth == 0 {
		h.l.owner.Store(nil)
		h.l.rw.Unlock()
	}
}

// Depth returns the current nesting depth (0 once fully released).
func (h *Hold) Depth() int {
	if h == nil {
		return 0
	}
	return h.depth
}
