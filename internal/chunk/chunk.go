// Package chunk is the tile storage of a world: fixed-size chunks that each
// own their lock and update counter, and per-layer indexes mapping chunk
// coordinates to chunks.
package chunk

import (
	"fmt"
	"sync/atomic"

	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/lock"
)

// Value is the element type a layer stores per tile.
type Value interface {
	~uint8 | ~uint16
}

// State is a chunk's materialisation state.
type State int32

const (
	StatePending State = iota // reserved, generation or load in progress
	StateReady                // materialised and visible
	StateFailed               // generation failed or chunk dropped; never visible again
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Chunk is one layer's ChunkSize×ChunkSize block of tiles.
//
// All tile access goes through the chunk's own lock. The version is bumped on
// every committed write and never goes backwards, so external caches can key
// derived data on it.
type Chunk[T Value] struct {
	coord   geom.ChunkCoord
	mu      lock.Reentrant
	state   atomic.Int32
	version atomic.Uint64
	saved   atomic.Uint64
	floor   uint64 // last version of a dropped predecessor at coord
	tiles   [geom.ChunkArea]T
}

// newPending returns a pending chunk already locked by the returned hold.
func newPending[T Value](c geom.ChunkCoord, floor uint64) (*Chunk[T], *lock.Hold) {
	ch := &Chunk[T]{coord: c, floor: floor}
	h := ch.mu.Lock(nil)
	return ch, h
}

func (c *Chunk[T]) Coord() geom.ChunkCoord { return c.coord }

func (c *Chunk[T]) State() State { return State(c.state.Load()) }

// Version is the update counter. It is 0 only while the chunk is pending.
func (c *Chunk[T]) Version() uint64 { return c.version.Load() }

// Dirty reports whether the chunk changed since MarkSaved.
func (c *Chunk[T]) Dirty() bool { return c.version.Load() != c.saved.Load() }

// MarkSaved records v as the last persisted version.
func (c *Chunk[T]) MarkSaved(v uint64) { c.saved.Store(v) }

// Lock takes the chunk exclusively. See lock.Reentrant for h.
func (c *Chunk[T]) Lock(h *lock.Hold) *lock.Hold { return c.mu.Lock(h) }

func (c *Chunk[T]) RLock(h *lock.Hold)   { c.mu.RLock(h) }
func (c *Chunk[T]) RUnlock(h *lock.Hold) { c.mu.RUnlock(h) }

// Holds reports whether h owns the chunk exclusively.
func (c *Chunk[T]) Holds(h *lock.Hold) bool { return c.mu.Holds(h) }

// At reads one tile under the shared lock (a no-op for the exclusive owner).
func (c *Chunk[T]) At(h *lock.Hold, l geom.Local) T {
	c.mu.RLock(h)
	v := c.tiles[l.Index()]
	c.mu.RUnlock(h)
	return v
}

// Set writes one tile under the exclusive lock and returns the new version.
func (c *Chunk[T]) Set(h *lock.Hold, l geom.Local, v T) uint64 {
	h = c.mu.Lock(h)
	c.tiles[l.Index()] = v
	ver := c.version.Add(1)
	h.Unlock()
	return ver
}

// Tiles exposes the raw tile array to the exclusive owner for bulk work.
// Callers must call Touch afterwards if they changed anything.
func (c *Chunk[T]) Tiles(h *lock.Hold) *[geom.ChunkArea]T {
	if !c.mu.Holds(h) {
		panic(fmt.Sprintf("chunk %s: Tiles without exclusive hold", c.coord))
	}
	return &c.tiles
}

// Touch bumps the version after a bulk write made through Tiles.
func (c *Chunk[T]) Touch(h *lock.Hold) uint64 {
	if !c.mu.Holds(h) {
		panic(fmt.Sprintf("chunk %s: Touch without exclusive hold", c.coord))
	}
	return c.version.Add(1)
}

// Snapshot copies the tiles and the version they correspond to.
func (c *Chunk[T]) Snapshot(h *lock.Hold) ([]T, uint64) {
	c.mu.RLock(h)
	out := make([]T, geom.ChunkArea)
	copy(out, c.tiles[:])
	v := c.version.Load()
	c.mu.RUnlock(h)
	return out, v
}

// settle gives a pending chunk its first visible version: above every
// version a dropped predecessor at the same coordinate reached. A restored
// chunk that was not modified since stays clean.
func (c *Chunk[T]) settle() {
	v := c.version.Load()
	if v > c.floor {
		return
	}
	next := c.floor + 1
	c.version.Store(next)
	if c.saved.Load() == v && v != 0 {
		c.saved.Store(next)
	}
}

// restore installs loaded tiles into a pending chunk.
func (c *Chunk[T]) restore(values []T, version uint64) {
	copy(c.tiles[:], values)
	c.version.Store(version)
	c.saved.Store(version)
}
