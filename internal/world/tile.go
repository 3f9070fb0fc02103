package world

import (
	"context"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/lock"
	"github.com/tilerealm/worldcore/internal/path"
)

// resolve materialises the chunk holding t and returns its layers.
func (w *World) resolve(ctx context.Context, t geom.TileCoord) (chunk.Set, geom.Local, error) {
	if err := geom.Check(w.bounds, t); err != nil {
		return chunk.Set{}, geom.Local{}, err
	}
	c, l := geom.ToChunk(t)
	for {
		if err := w.sched.Ensure(ctx, c); err != nil {
			return chunk.Set{}, geom.Local{}, err
		}
		if set, ok := w.layers.Get(c); ok {
			return set, l, nil
		}
		// Dropped between Ensure and Get.
		if err := ctx.Err(); err != nil {
			return chunk.Set{}, geom.Local{}, err
		}
	}
}

// Terrain returns the terrain id at t, generating its chunk if needed.
func (w *World) Terrain(ctx context.Context, t geom.TileCoord) (uint16, error) {
	set, l, err := w.resolve(ctx, t)
	if err != nil {
		return 0, err
	}
	return set.Terrain.At(nil, l), nil
}

func (w *World) Passability(ctx context.Context, t geom.TileCoord) (uint8, error) {
	return w.byteAt(ctx, chunk.Passability, t)
}

func (w *World) Biome(ctx context.Context, t geom.TileCoord) (uint8, error) {
	return w.byteAt(ctx, chunk.Biome, t)
}

func (w *World) Fluid(ctx context.Context, t geom.TileCoord) (uint8, error) {
	return w.byteAt(ctx, chunk.Fluid, t)
}

// Connectivity returns the mask of traversable neighbours of t, bit i set
// for geom.Steps[i].
func (w *World) Connectivity(ctx context.Context, t geom.TileCoord) (uint8, error) {
	return w.byteAt(ctx, chunk.Connectivity, t)
}

func (w *World) byteAt(ctx context.Context, k chunk.Kind, t geom.TileCoord) (uint8, error) {
	set, l, err := w.resolve(ctx, t)
	if err != nil {
		return 0, err
	}
	return set.Byte(k).At(nil, l), nil
}

// Traversable reports whether t can be entered: walkable terrain and fluid
// below the blocking depth. Tiles outside the bounds are not traversable.
func (w *World) Traversable(ctx context.Context, t geom.TileCoord) (bool, error) {
	if w.bounds != nil && !w.bounds.Contains(t) {
		return false, nil
	}
	set, l, err := w.resolve(ctx, t)
	if err != nil {
		return false, err
	}
	return w.wt.Traversable(set.Passability.At(nil, l), set.Fluid.At(nil, l)), nil
}

// SetTerrain writes the terrain id at t and returns the chunk's new terrain
// version. Derived passability and connectivity follow through a cascade.
func (w *World) SetTerrain(ctx context.Context, t geom.TileCoord, v uint16) (uint64, error) {
	var ver uint64
	err := w.write(ctx, t, chunk.Terrain, func(set chunk.Set, h *lock.Hold, l geom.Local) {
		ver = set.Terrain.Set(h, l, v)
	})
	if err != nil {
		return 0, err
	}
	w.cascade(ctx, []geom.TileCoord{t}, false)
	return ver, nil
}

// SetFluid writes the fluid depth at t. Fluid deeper than one spreads to
// walkable neighbours, losing one level per step, within the cascade
// budget. Lowering a level does not drain the neighbours.
func (w *World) SetFluid(ctx context.Context, t geom.TileCoord, v uint8) (uint64, error) {
	var ver uint64
	err := w.write(ctx, t, chunk.Fluid, func(set chunk.Set, h *lock.Hold, l geom.Local) {
		ver = set.Fluid.Set(h, l, v)
	})
	if err != nil {
		return 0, err
	}
	w.cascade(ctx, []geom.TileCoord{t}, true)
	return ver, nil
}

// SetBiome writes the biome id at t. Biomes feed no derived layer.
func (w *World) SetBiome(ctx context.Context, t geom.TileCoord, v uint8) (uint64, error) {
	var ver uint64
	err := w.write(ctx, t, chunk.Biome, func(set chunk.Set, h *lock.Hold, l geom.Local) {
		ver = set.Biome.Set(h, l, v)
	})
	return ver, err
}

// write runs fn under the exclusive lock of layer k's chunk at t, retrying
// if the chunk was dropped before the lock was taken.
func (w *World) write(ctx context.Context, t geom.TileCoord, k chunk.Kind, fn func(chunk.Set, *lock.Hold, geom.Local)) error {
	for {
		set, l, err := w.resolve(ctx, t)
		if err != nil {
			return err
		}
		var h *lock.Hold
		var state chunk.State
		if k == chunk.Terrain {
			h = set.Terrain.Lock(nil)
			state = set.Terrain.State()
		} else {
			h = set.Byte(k).Lock(nil)
			state = set.Byte(k).State()
		}
		if state == chunk.StateReady {
			fn(set, h, l)
			h.Unlock()
			return nil
		}
		h.Unlock()
	}
}

// FindPath searches for a route from start to goal over traversable tiles.
// An iterCap <= 0 uses the configured iteration cap. Chunks the search touches
// are generated on demand. Both endpoints must lie inside the bounds.
func (w *World) FindPath(ctx context.Context, start, goal geom.TileCoord, iterCap int) (path.Result, error) {
	if err := geom.Check(w.bounds, start); err != nil {
		return path.Result{}, err
	}
	if err := geom.Check(w.bounds, goal); err != nil {
		return path.Result{}, err
	}
	if iterCap <= 0 {
		iterCap = w.pathCap
	}
	return path.Find(ctx, path.GridFunc(w.Traversable), path.Query{Start: start, Goal: goal, Cap: iterCap})
}
