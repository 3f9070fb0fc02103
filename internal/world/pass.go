package world

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/worker"
)

// clip limits r to the world bounds.
func (w *World) clip(r geom.Rect) geom.Rect {
	if w.bounds == nil {
		return r
	}
	return r.Intersect(*w.bounds)
}

// Pregenerate materialises every chunk overlapping r, splitting the work
// into disjoint bands across the pool. It returns the number of chunks the
// pass found absent and materialised.
func (w *World) Pregenerate(ctx context.Context, r geom.Rect) (int, error) {
	r = w.clip(r)
	if r.Empty() {
		return 0, nil
	}
	w.big.RLock()
	defer w.big.RUnlock()

	start := time.Now()
	var made atomic.Int64
	err := w.pool.Run(ctx, w.seed, geom.Split(r, w.pool.Size()), func(ctx context.Context, e *worker.Exec) error {
		region, _ := e.Region()
		for _, c := range region.Chunks() {
			if w.Resident(c) {
				continue
			}
			if err := w.sched.Ensure(ctx, c); err != nil {
				return err
			}
			made.Add(1)
		}
		return nil
	})
	n := int(made.Load())
	if err != nil {
		return n, fmt.Errorf("pregenerate %s: %w", r, err)
	}
	w.log.Debug("pregenerated",
		zap.Stringer("rect", r),
		zap.Int("chunks", n),
		zap.Duration("took", time.Since(start)))
	return n, nil
}

// View is a sweep's access to one chunk. The worker holds every layer of the
// chunk exclusively for the duration of the callback, so tile access takes
// no further locks. Writes go through Set* so versions advance.
type View struct {
	Coord geom.ChunkCoord
	Exec  *worker.Exec

	set     chunk.Set
	hs      *holds
	touched []geom.TileCoord
}

func (v *View) Terrain(l geom.Local) uint16 {
	return v.set.Terrain.At(v.hs.get(chunk.Terrain), l)
}

func (v *View) Fluid(l geom.Local) uint8 { return v.set.Fluid.At(v.hs.get(chunk.Fluid), l) }

func (v *View) Biome(l geom.Local) uint8 { return v.set.Biome.At(v.hs.get(chunk.Biome), l) }

func (v *View) Passability(l geom.Local) uint8 {
	return v.set.Passability.At(v.hs.get(chunk.Passability), l)
}

func (v *View) SetTerrain(l geom.Local, val uint16) {
	if v.Terrain(l) == val {
		return
	}
	v.set.Terrain.Set(v.hs.get(chunk.Terrain), l, val)
	v.touched = append(v.touched, geom.FromChunk(v.Coord, l))
}

func (v *View) SetFluid(l geom.Local, val uint8) {
	if v.Fluid(l) == val {
		return
	}
	v.set.Fluid.Set(v.hs.get(chunk.Fluid), l, val)
	v.touched = append(v.touched, geom.FromChunk(v.Coord, l))
}

func (v *View) SetBiome(l geom.Local, val uint8) {
	if v.Biome(l) != val {
		v.set.Biome.Set(v.hs.get(chunk.Biome), l, val)
	}
}

// SweepFunc is called once per resident chunk of a sweep.
type SweepFunc func(ctx context.Context, v *View) error

// Sweep runs fn over every resident chunk overlapping r, in parallel over
// disjoint bands. Each chunk is locked once for the whole callback rather
// than per tile; chunks are not generated. Terrain and fluid changes made
// through the View cascade once the chunk is released.
func (w *World) Sweep(ctx context.Context, r geom.Rect, fn SweepFunc) (int, error) {
	r = w.clip(r)
	if r.Empty() {
		return 0, nil
	}
	w.big.RLock()
	defer w.big.RUnlock()

	var swept atomic.Int64
	err := w.pool.Run(ctx, w.seed, geom.Split(r, w.pool.Size()), func(ctx context.Context, e *worker.Exec) error {
		region, _ := e.Region()
		for _, c := range region.Chunks() {
			if err := ctx.Err(); err != nil {
				return err
			}
			set, ok := w.layers.Get(c)
			if !ok {
				continue
			}
			hs := lockKinds(set, chunk.Kinds[:]...)
			if set.Terrain.State() != chunk.StateReady {
				hs.unlock()
				continue
			}
			v := &View{Coord: c, Exec: e, set: set, hs: hs}
			err := fn(ctx, v)
			hs.unlock()
			if err != nil {
				return fmt.Errorf("sweep %s: %w", c, err)
			}
			if len(v.touched) > 0 {
				w.cascade(ctx, v.touched, true)
			}
			swept.Add(1)
		}
		return nil
	})
	return int(swept.Load()), err
}
