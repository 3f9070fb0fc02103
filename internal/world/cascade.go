package world

import (
	"context"

	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/gen"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/lock"
	"github.com/tilerealm/worldcore/internal/worker"
)

// holds is a set of exclusive holds on one coordinate's chunks, indexed by
// kind. Locks are always taken in chunk.Kinds order.
type holds [len(chunk.Kinds)]*lock.Hold

func lockKinds(set chunk.Set, kinds ...chunk.Kind) *holds {
	var hs holds
	for _, k := range kinds {
		if k == chunk.Terrain {
			hs[0] = set.Terrain.Lock(nil)
			continue
		}
		hs[k-1] = set.Byte(k).Lock(nil)
	}
	return &hs
}

func (hs *holds) get(k chunk.Kind) *lock.Hold { return hs[k-1] }

func (hs *holds) unlock() {
	for i := len(hs) - 1; i >= 0; i-- {
		if hs[i] != nil {
			hs[i].Unlock()
		}
	}
}

// tileState is what a cascade step needs to know about a neighbour.
type tileState struct {
	open  bool
	fluid uint8
}

// peek reads t without generating. Absent and out-of-bounds tiles are
// closed and dry.
func (w *World) peek(t geom.TileCoord) tileState {
	if w.bounds != nil && !w.bounds.Contains(t) {
		return tileState{}
	}
	c, l := geom.ToChunk(t)
	set, ok := w.layers.Get(c)
	if !ok {
		return tileState{}
	}
	pass := set.Passability.At(nil, l)
	fluid := set.Fluid.At(nil, l)
	return tileState{open: w.wt.Traversable(pass, fluid), fluid: fluid}
}

func (w *World) open(t geom.TileCoord) bool { return w.peek(t).open }

// cascade recomputes derived state outward from seeds, breadth first, over
// resident chunks only. With pin set the seeds were written directly: they
// keep their fluid level and always pass the change on to their neighbours.
func (w *World) cascade(ctx context.Context, seeds []geom.TileCoord, pin bool) worker.CascadeResult {
	var q *worker.Cascade
	if e, ok := worker.FromContext(ctx); ok && e.Budget() > 0 {
		q = e.Cascade()
	} else {
		q = worker.NewCascade(w.budget)
	}
	var pinned map[geom.TileCoord]bool
	if pin {
		pinned = make(map[geom.TileCoord]bool, len(seeds))
		for _, t := range seeds {
			pinned[t] = true
		}
	}
	q.Push(seeds...)
	res, _ := q.Run(func(t geom.TileCoord) ([]geom.TileCoord, error) {
		return w.step(t, pinned[t]), nil
	})
	if res.Exhausted {
		w.log.Debug("cascade budget exhausted",
			zap.Int("steps", res.Steps),
			zap.Int("pending", res.Pending))
	}
	return res
}

// step recomputes passability, fluid and connectivity of t and returns the
// tiles the change must spread to.
//
// Neighbours are read before t's chunk is locked, never while holding it:
// two steps on adjacent chunks would otherwise wait on each other.
func (w *World) step(t geom.TileCoord, pinned bool) []geom.TileCoord {
	c, l := geom.ToChunk(t)
	set, ok := w.layers.Get(c)
	if !ok {
		return nil
	}
	neighbors := t.Neighbors()
	var around [4]tileState
	for i, n := range neighbors {
		around[i] = w.peek(n)
	}

	hs := lockKinds(set, chunk.Terrain, chunk.Passability, chunk.Fluid, chunk.Connectivity)
	if set.Terrain.State() != chunk.StateReady {
		hs.unlock()
		return nil
	}
	ph, fh, ch := hs.get(chunk.Passability), hs.get(chunk.Fluid), hs.get(chunk.Connectivity)
	oldPass := set.Passability.At(ph, l)
	oldFluid := set.Fluid.At(fh, l)

	pass := gen.Passability(w.terrains, set.Terrain.At(hs.get(chunk.Terrain), l))
	fluid := oldFluid
	if !pinned && pass != 0 {
		for _, p := range around {
			if p.fluid > 1 && p.fluid-1 > fluid {
				fluid = p.fluid - 1
			}
		}
	}
	var mask uint8
	for i, p := range around {
		if p.open {
			mask |= 1 << i
		}
	}

	if pass != oldPass {
		set.Passability.Set(ph, l, pass)
	}
	if fluid != oldFluid {
		set.Fluid.Set(fh, l, fluid)
	}
	if mask != set.Connectivity.At(ch, l) {
		set.Connectivity.Set(ch, l, mask)
	}
	hs.unlock()

	if w.wt.Traversable(oldPass, oldFluid) != w.wt.Traversable(pass, fluid) {
		w.refreshMasks(neighbors[:])
	}
	if pinned || fluid != oldFluid {
		return neighbors[:]
	}
	return nil
}

// refreshMasks recomputes the connectivity of tiles, locking each chunk's
// connectivity layer once.
func (w *World) refreshMasks(tiles []geom.TileCoord) {
	byChunk := make(map[geom.ChunkCoord][]geom.TileCoord)
	for _, t := range tiles {
		if w.bounds != nil && !w.bounds.Contains(t) {
			continue
		}
		c, _ := geom.ToChunk(t)
		byChunk[c] = append(byChunk[c], t)
	}
	for c, ts := range byChunk {
		set, ok := w.layers.Get(c)
		if !ok {
			continue
		}
		masks := make([]uint8, len(ts))
		for i, t := range ts {
			masks[i] = gen.Mask(t, w.open)
		}
		h := set.Connectivity.Lock(nil)
		if set.Connectivity.State() == chunk.StateReady {
			for i, t := range ts {
				_, l := geom.ToChunk(t)
				if set.Connectivity.At(h, l) != masks[i] {
					set.Connectivity.Set(h, l, masks[i])
				}
			}
		}
		h.Unlock()
	}
}

// refreshBorder fixes connectivity on both sides of every edge between a
// freshly committed chunk and its resident neighbours.
func (w *World) refreshBorder(ctx context.Context, c geom.ChunkCoord) {
	o := c.Origin()
	last := int32(geom.ChunkSize - 1)
	var tiles []geom.TileCoord
	for dir, nc := range c.Neighbors() {
		if !w.Resident(nc) {
			continue
		}
		for i := int32(0); i < geom.ChunkSize; i++ {
			var edge geom.TileCoord
			switch dir {
			case 0:
				edge = geom.TileCoord{Row: o.Row, Col: o.Col + i}
			case 1:
				edge = geom.TileCoord{Row: o.Row + i, Col: o.Col}
			case 2:
				edge = geom.TileCoord{Row: o.Row + last, Col: o.Col + i}
			case 3:
				edge = geom.TileCoord{Row: o.Row + i, Col: o.Col + last}
			}
			tiles = append(tiles, edge, edge.Add(geom.Steps[dir]))
		}
	}
	if len(tiles) > 0 {
		w.refreshMasks(tiles)
	}
}

// spilled recomputes derived state around tiles a generator wrote into
// resident neighbours.
func (w *World) spilled(ctx context.Context, tiles []geom.TileCoord) {
	w.cascade(ctx, tiles, true)
}
