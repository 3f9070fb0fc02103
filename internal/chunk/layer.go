package chunk

import (
	"fmt"
	"time"

	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/lock"
)

// Kind names a layer.
type Kind uint8

const (
	Terrain      Kind = iota + 1 // terrain id (uint16)
	Passability                  // nonzero if the terrain is walkable
	Biome                        // biome id
	Fluid                        // fluid depth, 0 = dry
	Connectivity                 // 4-bit mask of traversable neighbours, Steps order
)

// Kinds lists every layer in lock order.
var Kinds = [...]Kind{Terrain, Passability, Biome, Fluid, Connectivity}

func (k Kind) String() string {
	switch k {
	case Terrain:
		return "terrain"
	case Passability:
		return "passability"
	case Biome:
		return "biome"
	case Fluid:
		return "fluid"
	case Connectivity:
		return "connectivity"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Width is the byte width of the layer's values.
func (k Kind) Width() int {
	if k == Terrain {
		return 2
	}
	return 1
}

// Layer indexes one layer's chunks by coordinate.
//
// The map itself is guarded by a writer-priority lock: lookups are frequent
// and short, membership changes (reservation, drop) are rare and must not
// starve. Tile data is never touched under this lock.
type Layer[T Value] struct {
	kind     Kind
	idx      *lock.WriterPriority
	patience time.Duration
	chunks   map[geom.ChunkCoord]*Chunk[T]
	floors   map[geom.ChunkCoord]uint64 // highest version of removed chunks
}

func NewLayer[T Value](kind Kind, patience time.Duration) *Layer[T] {
	return &Layer[T]{
		kind:     kind,
		idx:      lock.NewWriterPriority(),
		patience: patience,
		chunks:   make(map[geom.ChunkCoord]*Chunk[T], 256),
		floors:   make(map[geom.ChunkCoord]uint64),
	}
}

func (l *Layer[T]) Kind() Kind { return l.kind }

// Get returns the materialised chunk at c. It never triggers generation and
// never blocks on a chunk being generated: pending chunks read as absent.
func (l *Layer[T]) Get(c geom.ChunkCoord) (*Chunk[T], bool) {
	ch, ok := l.lookup(c)
	if !ok || ch.State() != StateReady {
		return nil, false
	}
	return ch, true
}

func (l *Layer[T]) lookup(c geom.ChunkCoord) (*Chunk[T], bool) {
	l.idx.RLock()
	ch, ok := l.chunks[c]
	l.idx.RUnlock()
	return ch, ok
}

// Len counts index entries, pending ones included.
func (l *Layer[T]) Len() int {
	l.idx.RLock()
	n := len(l.chunks)
	l.idx.RUnlock()
	return n
}

// Ready returns every materialised chunk. The slice is a snapshot.
func (l *Layer[T]) Ready() []*Chunk[T] {
	l.idx.RLock()
	out := make([]*Chunk[T], 0, len(l.chunks))
	for _, ch := range l.chunks {
		if ch.State() == StateReady {
			out = append(out, ch)
		}
	}
	l.idx.RUnlock()
	return out
}

// reserve inserts a pending, exclusively held chunk at c. The caller must
// have checked c is absent; Layers serialises reservations.
func (l *Layer[T]) reserve(c geom.ChunkCoord) (*Chunk[T], *lock.Hold) {
	l.idx.Lock(l.patience)
	ch, h := newPending[T](c, l.floors[c])
	l.chunks[c] = ch
	l.idx.Unlock()
	return ch, h
}

// remove deletes ch from the index if it is still the entry at its
// coordinate. The coordinate remembers the highest version ch reached, so a
// successor never reuses a version number.
func (l *Layer[T]) remove(ch *Chunk[T]) {
	l.idx.Lock(l.patience)
	if l.chunks[ch.coord] == ch {
		delete(l.chunks, ch.coord)
		l.floors[ch.coord] = max(l.floors[ch.coord], ch.floor, ch.version.Load())
	}
	l.idx.Unlock()
}

// Floor returns the version a chunk materialised at c next will exceed.
func (l *Layer[T]) Floor(c geom.ChunkCoord) uint64 {
	l.idx.RLock()
	f := l.floors[c]
	l.idx.RUnlock()
	return f
}
