package chunk

import (
	"sync"
	"time"

	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/lock"
)

// Layers is the full set of layer indexes of one world. Every layer shares
// chunk coordinates; Terrain is the gate that decides whether a coordinate
// is materialised.
//
// Lock order: a goroutine taking several chunk locks of one coordinate takes
// them in Kinds order, and only then reserveMu.
type Layers struct {
	reserveMu sync.Mutex

	Terrain      *Layer[uint16]
	Passability  *Layer[uint8]
	Biome        *Layer[uint8]
	Fluid        *Layer[uint8]
	Connectivity *Layer[uint8]
}

func NewLayers(patience time.Duration) *Layers {
	return &Layers{
		Terrain:      NewLayer[uint16](Terrain, patience),
		Passability:  NewLayer[uint8](Passability, patience),
		Biome:        NewLayer[uint8](Biome, patience),
		Fluid:        NewLayer[uint8](Fluid, patience),
		Connectivity: NewLayer[uint8](Connectivity, patience),
	}
}

// Byte returns the uint8 layer of kind k, or nil for Terrain.
func (ls *Layers) Byte(k Kind) *Layer[uint8] {
	switch k {
	case Passability:
		return ls.Passability
	case Biome:
		return ls.Biome
	case Fluid:
		return ls.Fluid
	case Connectivity:
		return ls.Connectivity
	}
	return nil
}

// Set is one coordinate's chunks across every layer.
type Set struct {
	Terrain      *Chunk[uint16]
	Passability  *Chunk[uint8]
	Biome        *Chunk[uint8]
	Fluid        *Chunk[uint8]
	Connectivity *Chunk[uint8]
}

// Byte returns the uint8 chunk of kind k, or nil for Terrain.
func (s *Set) Byte(k Kind) *Chunk[uint8] {
	switch k {
	case Passability:
		return s.Passability
	case Biome:
		return s.Biome
	case Fluid:
		return s.Fluid
	case Connectivity:
		return s.Connectivity
	}
	return nil
}

// Version returns the update counter of layer k.
func (s *Set) Version(k Kind) uint64 {
	if k == Terrain {
		return s.Terrain.Version()
	}
	return s.Byte(k).Version()
}

// Get returns the materialised chunks at c without generating anything.
func (ls *Layers) Get(c geom.ChunkCoord) (Set, bool) {
	var s Set
	var ok bool
	if s.Terrain, ok = ls.Terrain.Get(c); !ok {
		return Set{}, false
	}
	for _, k := range Kinds[1:] {
		ch, ok := ls.Byte(k).Get(c)
		if !ok {
			return Set{}, false
		}
		s.setByte(k, ch)
	}
	return s, true
}

// Ready returns the coordinates of every materialised chunk.
func (ls *Layers) Ready() []geom.ChunkCoord {
	chunks := ls.Terrain.Ready()
	out := make([]geom.ChunkCoord, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.coord
	}
	return out
}

func (s *Set) setByte(k Kind, ch *Chunk[uint8]) {
	switch k {
	case Passability:
		s.Passability = ch
	case Biome:
		s.Biome = ch
	case Fluid:
		s.Fluid = ch
	case Connectivity:
		s.Connectivity = ch
	}
}

// Reserve claims c for materialisation. If c is absent it inserts pending
// chunks in every layer, all exclusively held by the returned Pending, and
// the caller must Commit or Abort it. If c is already present (pending or
// ready) it returns the terrain chunk so the caller can Wait on it.
func (ls *Layers) Reserve(c geom.ChunkCoord) (*Pending, *Chunk[uint16]) {
	ls.reserveMu.Lock()
	defer ls.reserveMu.Unlock()

	if ch, ok := ls.Terrain.lookup(c); ok {
		return nil, ch
	}
	p := &Pending{coord: c, layers: ls}
	p.Terrain, p.holds[0] = ls.Terrain.reserve(c)
	for i, k := range Kinds[1:] {
		ch, h := ls.Byte(k).reserve(c)
		p.setByte(k, ch)
		p.holds[i+1] = h
	}
	return p, nil
}

// Wait blocks until ch is no longer pending and returns its state.
func Wait[T Value](ch *Chunk[T]) State {
	ch.RLock(nil)
	s := ch.State()
	ch.RUnlock(nil)
	return s
}

// Drop removes the materialised chunks at c from every layer so the next
// access regenerates them. Goroutines already blocked on the old chunks see
// StateFailed once they get the lock and must look the coordinate up again.
// It reports false if c was not materialised.
func (ls *Layers) Drop(c geom.ChunkCoord) bool {
	set, ok := ls.Get(c)
	if !ok {
		return false
	}
	var holds [len(Kinds)]*lock.Hold
	holds[0] = set.Terrain.Lock(nil)
	for i, k := range Kinds[1:] {
		holds[i+1] = set.Byte(k).Lock(nil)
	}
	defer func() {
		for i := len(holds) - 1; i >= 0; i-- {
			holds[i].Unlock()
		}
	}()
	if set.Terrain.State() != StateReady {
		return false
	}

	ls.reserveMu.Lock()
	ls.Terrain.remove(set.Terrain)
	set.Terrain.state.Store(int32(StateFailed))
	for _, k := range Kinds[1:] {
		ch := set.Byte(k)
		ls.Byte(k).remove(ch)
		ch.state.Store(int32(StateFailed))
	}
	ls.reserveMu.Unlock()
	return true
}

// Pending is a reserved coordinate whose chunks are being generated or
// loaded. Its holds are the exclusive capability on every chunk of the set.
type Pending struct {
	Set
	coord  geom.ChunkCoord
	layers *Layers
	holds  [len(Kinds)]*lock.Hold
	done   bool
}

func (p *Pending) Coord() geom.ChunkCoord { return p.coord }

// Hold returns the exclusive hold on layer k's chunk.
func (p *Pending) Hold(k Kind) *lock.Hold { return p.holds[k-1] }

// TerrainTiles and ByteTiles expose the pending buffers.
func (p *Pending) TerrainTiles() *[geom.ChunkArea]uint16 {
	return p.Terrain.Tiles(p.Hold(Terrain))
}

func (p *Pending) ByteTiles(k Kind) *[geom.ChunkArea]uint8 {
	return p.Byte(k).Tiles(p.Hold(k))
}

// Restore installs previously persisted values for layer k. Values are
// widened to uint16 regardless of the layer's width.
func (p *Pending) Restore(k Kind, values []uint16, version uint64) {
	if k == Terrain {
		p.Terrain.restore(values, version)
		return
	}
	narrow := make([]uint8, len(values))
	for i, v := range values {
		narrow[i] = uint8(v)
	}
	p.Byte(k).restore(narrow, version)
}

// Commit makes the chunks visible and releases them. Terrain is marked ready
// last, so anyone who sees the gate ready sees every layer ready.
func (p *Pending) Commit() {
	if p.done {
		return
	}
	p.done = true
	for i := len(Kinds) - 1; i >= 1; i-- {
		ch := p.Byte(Kinds[i])
		ch.settle()
		ch.state.Store(int32(StateReady))
	}
	p.Terrain.settle()
	p.Terrain.state.Store(int32(StateReady))
	p.release()
}

// Abort removes the reservation so a later request sees the coordinate as
// absent, then releases anyone waiting on it.
func (p *Pending) Abort() {
	if p.done {
		return
	}
	p.done = true
	p.layers.reserveMu.Lock()
	p.layers.Terrain.remove(p.Terrain)
	for _, k := range Kinds[1:] {
		p.layers.Byte(k).remove(p.Byte(k))
	}
	p.layers.reserveMu.Unlock()

	p.Terrain.state.Store(int32(StateFailed))
	for _, k := range Kinds[1:] {
		p.Byte(k).state.Store(int32(StateFailed))
	}
	p.release()
}

func (p *Pending) release() {
	for i := len(p.holds) - 1; i >= 0; i-- {
		p.holds[i].Unlock()
	}
}
