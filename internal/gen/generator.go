// Package gen materialises chunks on first access. The Scheduler guarantees
// each chunk coordinate is generated at most once at a time and committed at
// most once; the routines that fill chunks are pluggable per world type.
package gen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/worker"
)

// ErrUnknownWorldType is returned when no routine is registered for a kind.
var ErrUnknownWorldType = errors.New("unknown world type")

// Generator fills one chunk. It must write only through the Request: the
// chunk's own buffers for tiles inside it, Put/Spill for tiles outside.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req *Request) error
}

// Spill is a write a routine made outside its own chunk.
type Spill struct {
	Kind  chunk.Kind
	Tile  geom.TileCoord
	Value uint16
}

// Request is what a routine gets for one chunk. The buffers belong to the
// pending chunk and are exclusively held by the scheduler for the duration of
// Generate.
type Request struct {
	Seed  int64
	Type  *data.WorldType
	Coord geom.ChunkCoord
	Exec  *worker.Exec

	Terrain *[geom.ChunkArea]uint16
	Biome   *[geom.ChunkArea]uint8
	Fluid   *[geom.ChunkArea]uint8

	layers *chunk.Layers
	spills []Spill
}

// Origin is the absolute tile at local (0,0).
func (r *Request) Origin() geom.TileCoord { return r.Coord.Origin() }

// Bounds is the tile rectangle of the requested chunk.
func (r *Request) Bounds() geom.Rect { return r.Coord.Bounds() }

// Put writes an absolute tile. Tiles inside the chunk go straight to its
// buffers; anything else is recorded as a spill for the scheduler to route.
// Passability and connectivity are derived, so only terrain, biome and fluid
// may be written.
func (r *Request) Put(k chunk.Kind, t geom.TileCoord, v uint16) {
	c, l := geom.ToChunk(t)
	if c != r.Coord {
		r.spills = append(r.spills, Spill{Kind: k, Tile: t, Value: v})
		return
	}
	i := l.Index()
	switch k {
	case chunk.Terrain:
		r.Terrain[i] = v
	case chunk.Biome:
		r.Biome[i] = uint8(v)
	case chunk.Fluid:
		r.Fluid[i] = uint8(v)
	default:
		panic(fmt.Sprintf("gen: Put on derived layer %s", k))
	}
}

// Neighbor returns an already resident chunk for read-only use. It never
// generates and never waits on a chunk that is itself being generated.
func (r *Request) Neighbor(c geom.ChunkCoord) (chunk.Set, bool) {
	if r.layers == nil {
		return chunk.Set{}, false
	}
	return r.layers.Get(c)
}

// Spills returns the out-of-chunk writes recorded so far.
func (r *Request) Spills() []Spill { return r.spills }

// Factory builds the routine for one world.
type Factory func(wt *data.WorldType, seed int64) (Generator, error)

// Registry maps world-type kinds to routine factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in routines. Lua routines
// load their scripts from scriptsDir.
func NewRegistry(scriptsDir string, log *zap.Logger) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(data.KindOpen, newOpen)
	r.Register(data.KindAlt, newAlt)
	r.Register(data.KindCave, newCave)
	r.Register(data.KindSettlement, newSettlement)
	r.Register(data.KindScript, func(wt *data.WorldType, seed int64) (Generator, error) {
		return NewScript(scriptsDir, wt, seed, log)
	})
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// New builds the routine for wt.
func (r *Registry) New(wt *data.WorldType, seed int64) (Generator, error) {
	r.mu.RLock()
	f, ok := r.factories[wt.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("world type %q kind %q: %w", wt.Name, wt.Kind, ErrUnknownWorldType)
	}
	g, err := f(wt, seed)
	if err != nil {
		return nil, fmt.Errorf("build %s generator: %w", wt.Kind, err)
	}
	return g, nil
}
