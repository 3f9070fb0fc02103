package gen

import (
	"context"

	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
)

// openWorld is the surface generator: height and moisture noise decide
// terrain, biome and standing water.
type openWorld struct {
	wt       *data.WorldType
	height   Sampler
	moisture Sampler
}

func newOpen(wt *data.WorldType, seed int64) (Generator, error) {
	return &openWorld{wt: wt, height: NewSimplex(seed), moisture: NewSimplex(seed + 1)}, nil
}

func (g *openWorld) Name() string { return data.KindOpen }

func (g *openWorld) Generate(ctx context.Context, req *Request) error {
	sea, peak := g.wt.SeaLevel, g.wt.MountainLevel
	if peak <= sea {
		peak = 1
	}
	moist := g.wt.Noise
	moist.Octaves = 2
	for i := 0; i < geom.ChunkArea; i++ {
		t := geom.FromChunk(req.Coord, geom.LocalAt(i))
		x, y := float64(t.Col), float64(t.Row)
		h := Fractal(g.height, g.wt.Noise, x, y)
		m := Fractal(g.moisture, moist, x, y)

		switch {
		case h < sea:
			req.Terrain[i] = data.TerrainShallows
			req.Biome[i] = data.BiomeOcean
			req.Fluid[i] = uint8(min(6, 1+int((sea-h)/0.04)))
		case h < sea+0.03:
			req.Terrain[i] = data.TerrainSand
			req.Biome[i] = data.BiomePlains
		case h >= peak:
			req.Terrain[i] = data.TerrainMountain
			req.Biome[i] = data.BiomeTundra
		case h >= peak-0.05:
			req.Terrain[i] = data.TerrainSnow
			req.Biome[i] = data.BiomeTundra
		case m > 0.58:
			req.Terrain[i] = data.TerrainGrass
			req.Biome[i] = data.BiomeForest
		case m < 0.32:
			req.Terrain[i] = data.TerrainSand
			req.Biome[i] = data.BiomeDesert
		default:
			req.Terrain[i] = data.TerrainGrass
			req.Biome[i] = data.BiomePlains
		}
	}
	return ctx.Err()
}

// altWorld is the alternate dimension: ridged noise raises obsidian walls,
// valleys fill with lava deep enough to block movement.
type altWorld struct {
	wt    *data.WorldType
	ridge Sampler
}

func newAlt(wt *data.WorldType, seed int64) (Generator, error) {
	return &altWorld{wt: wt, ridge: NewSimplex(seed ^ 0x5bd1e995)}, nil
}

func (g *altWorld) Name() string { return data.KindAlt }

func (g *altWorld) Generate(ctx context.Context, req *Request) error {
	for i := 0; i < geom.ChunkArea; i++ {
		t := geom.FromChunk(req.Coord, geom.LocalAt(i))
		r := Ridged(g.ridge, g.wt.Noise, float64(t.Col), float64(t.Row))
		req.Biome[i] = data.BiomeAshland
		switch {
		case r > 0.9:
			req.Terrain[i] = data.TerrainObsidian
		case r < g.wt.SeaLevel:
			req.Terrain[i] = data.TerrainAsh
			req.Fluid[i] = g.wt.BlockingFluid
		default:
			req.Terrain[i] = data.TerrainAsh
		}
	}
	return ctx.Err()
}

// caveWorld carves caverns where noise stays under the threshold and leaves
// shallow or deep pools in the lowest hollows.
type caveWorld struct {
	wt    *data.WorldType
	rock  Sampler
	pools Sampler
}

func newCave(wt *data.WorldType, seed int64) (Generator, error) {
	return &caveWorld{wt: wt, rock: NewSimplex(seed + 7), pools: NewSimplex(seed + 11)}, nil
}

func (g *caveWorld) Name() string { return data.KindCave }

func (g *caveWorld) Generate(ctx context.Context, req *Request) error {
	threshold := g.wt.CaveThreshold
	if threshold <= 0 {
		threshold = 0.55
	}
	for i := 0; i < geom.ChunkArea; i++ {
		t := geom.FromChunk(req.Coord, geom.LocalAt(i))
		x, y := float64(t.Col), float64(t.Row)
		req.Biome[i] = data.BiomeCavern
		if Fractal(g.rock, g.wt.Noise, x, y) > threshold {
			req.Terrain[i] = data.TerrainRockWall
			continue
		}
		req.Terrain[i] = data.TerrainCaveFloor
		switch p := g.pools.Eval2(x*0.07, y*0.07); {
		case p > 0.75:
			req.Fluid[i] = g.wt.BlockingFluid + 1
		case p > 0.6:
			req.Fluid[i] = 1
		}
	}
	return ctx.Err()
}
