// Package world is the spatial index of one realm: every layer's chunks,
// the scheduler that materialises them, and the tile, path and pass
// operations the rest of the server calls.
package world

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/gen"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/lock"
	"github.com/tilerealm/worldcore/internal/worker"
)

// Options configures a World. Zero values take the defaults noted per field.
type Options struct {
	ID        uuid.UUID // random when zero
	Seed      int64
	Type      *data.WorldType
	Terrains  *data.TerrainTable
	Generator gen.Generator
	Loader    gen.Loader // optional

	// Bounds overrides the world type's bounds. Nil with no type bounds
	// means unbounded.
	Bounds *geom.Rect

	CascadeBudget    int           // 4096
	WriterPatience   time.Duration // 20ms
	PathIterationCap int           // 20000
	Workers          int           // GOMAXPROCS

	Log *zap.Logger
}

// World owns the layers of one realm. The seed and world type never change
// after New, so they are read without locking.
type World struct {
	id       uuid.UUID
	seed     int64
	wt       *data.WorldType
	terrains *data.TerrainTable
	bounds   *geom.Rect

	layers *chunk.Layers
	sched  *gen.Scheduler
	pool   *worker.Pool

	// big guards whole-world operations (reset against passes and saves).
	// Tile reads and writes never touch it.
	big      *lock.WriterPriority
	patience time.Duration

	budget  int
	pathCap int
	log     *zap.Logger
}

func New(opts Options) (*World, error) {
	if opts.Type == nil {
		return nil, fmt.Errorf("new world: no world type")
	}
	if opts.Terrains == nil {
		return nil, fmt.Errorf("new world %s: no terrain table", opts.Type.Name)
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("new world %s: no generator", opts.Type.Name)
	}
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	if opts.CascadeBudget <= 0 {
		opts.CascadeBudget = 4096
	}
	if opts.WriterPatience <= 0 {
		opts.WriterPatience = 20 * time.Millisecond
	}
	if opts.PathIterationCap <= 0 {
		opts.PathIterationCap = 20000
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	bounds := opts.Bounds
	if bounds == nil && opts.Type.Bounds != nil {
		b := opts.Type.Bounds
		bounds = &geom.Rect{
			Min: geom.TileCoord{Row: b.MinRow, Col: b.MinCol},
			Max: geom.TileCoord{Row: b.MaxRow, Col: b.MaxCol},
		}
	}
	if bounds != nil && bounds.Empty() {
		return nil, fmt.Errorf("new world %s: empty bounds %s", opts.Type.Name, bounds)
	}

	log := opts.Log.With(zap.String("world", opts.Type.Name), zap.Stringer("id", opts.ID))
	w := &World{
		id:       opts.ID,
		seed:     opts.Seed,
		wt:       opts.Type,
		terrains: opts.Terrains,
		bounds:   bounds,
		layers:   chunk.NewLayers(opts.WriterPatience),
		pool:     worker.NewPool(opts.Workers, opts.CascadeBudget),
		big:      lock.NewWriterPriority(),
		patience: opts.WriterPatience,
		budget:   opts.CascadeBudget,
		pathCap:  opts.PathIterationCap,
		log:      log,
	}
	w.sched = gen.NewScheduler(gen.Options{
		Seed:      opts.Seed,
		Type:      opts.Type,
		Terrains:  opts.Terrains,
		Layers:    w.layers,
		Generator: opts.Generator,
		Loader:    opts.Loader,
		Bounds:    bounds,
		OnCommit:  w.refreshBorder,
		OnSpill:   w.spilled,
		Log:       log,
	})
	return w, nil
}

func (w *World) ID() uuid.UUID { return w.id }

func (w *World) Seed() int64 { return w.seed }

func (w *World) Type() *data.WorldType { return w.wt }

// Bounds returns the world's tile bounds, or false if it is unbounded.
func (w *World) Bounds() (geom.Rect, bool) {
	if w.bounds == nil {
		return geom.Rect{}, false
	}
	return *w.bounds, true
}

// Stats reports scheduler counters and the number of resident chunks.
func (w *World) Stats() (gen.Stats, int) {
	return w.sched.Stats(), len(w.layers.Ready())
}

// Workers is the size of the pass pool.
func (w *World) Workers() int { return w.pool.Size() }

// Ensure materialises the chunk at c if it is absent.
func (w *World) Ensure(ctx context.Context, c geom.ChunkCoord) error {
	if err := geom.CheckChunk(w.bounds, c); err != nil {
		return err
	}
	return w.sched.Ensure(ctx, c)
}

// Get returns the resident chunks at c. It never generates.
func (w *World) Get(c geom.ChunkCoord) (chunk.Set, bool) {
	return w.layers.Get(c)
}

// Resident reports whether the chunk at c is materialised.
func (w *World) Resident(c geom.ChunkCoord) bool {
	_, ok := w.layers.Terrain.Get(c)
	return ok
}

// Version returns the update counter of layer k at c, for callers caching
// data derived from it. It reports false if the chunk is not resident.
func (w *World) Version(k chunk.Kind, c geom.ChunkCoord) (uint64, bool) {
	set, ok := w.layers.Get(c)
	if !ok {
		return 0, false
	}
	return set.Version(k), true
}

// Regenerate discards the chunk at c and materialises it again.
func (w *World) Regenerate(ctx context.Context, c geom.ChunkCoord) error {
	if err := geom.CheckChunk(w.bounds, c); err != nil {
		return err
	}
	return w.sched.Regenerate(ctx, c)
}

// Reset drops every resident chunk under the whole-world lock and returns
// how many were dropped. Stashed spills are kept. Stored layers are not
// touched, so a world with a Loader reloads them; Wipe clears storage too.
func (w *World) Reset() int {
	w.big.Lock(w.patience)
	defer w.big.Unlock()

	n := w.dropAll()
	w.log.Info("world reset", zap.Int("chunks", n), zap.Uint64("escalations", w.big.Escalations()))
	return n
}

// dropAll drops every resident chunk. Caller holds big exclusively.
func (w *World) dropAll() int {
	n := 0
	for _, c := range w.layers.Ready() {
		if w.layers.Drop(c) {
			n++
		}
	}
	return n
}
