package gen

import (
	"context"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
)

// settlement lays out a town: every chunk keeps its last row and column as
// open street, a quarter of chunks become hedge mazes and the rest get
// walled rooms. Rooms may straddle the chunk edge; their far side is spilled
// into the neighbouring chunk.
type settlement struct {
	wt *data.WorldType
}

func newSettlement(wt *data.WorldType, seed int64) (Generator, error) {
	return &settlement{wt: wt}, nil
}

func (g *settlement) Name() string { return data.KindSettlement }

func (g *settlement) Generate(ctx context.Context, req *Request) error {
	for i := 0; i < geom.ChunkArea; i++ {
		req.Terrain[i] = data.TerrainFloor
		req.Biome[i] = data.BiomeSettlement
	}
	rng := req.Exec.Rand()
	if rng.Intn(4) == 0 {
		g.maze(req)
	} else {
		g.rooms(req)
	}
	return ctx.Err()
}

// maze fills the 15×15 block left of the street with a perfect maze and opens
// its top and left edges so it connects to the streets of the chunks above
// and to the left.
func (g *settlement) maze(req *Request) {
	const side = geom.ChunkSize - 1
	m := Maze(req.Exec.Rand(), side, side)
	m.Set(side/2, 0, true)
	m.Set(0, side/2, true)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			i := geom.Local{Row: uint8(y), Col: uint8(x)}.Index()
			if m.Open(x, y) {
				req.Terrain[i] = data.TerrainFloor
			} else {
				req.Terrain[i] = data.TerrainWall
			}
		}
	}
}

// rooms places walled buildings. Coordinates are relative to the chunk
// origin; a room may extend past the chunk into its right or lower
// neighbour.
func (g *settlement) rooms(req *Request) {
	rng := req.Exec.Rand()
	o := req.Origin()
	maxTop := geom.ChunkSize - 1 - g.wt.RoomMin
	for _, r := range Rooms(rng, 1, 1, maxTop, maxTop, g.wt.RoomAttempts, g.wt.RoomMin, g.wt.RoomMax) {
		for dy := 0; dy < r.H; dy++ {
			for dx := 0; dx < r.W; dx++ {
				t := geom.TileCoord{Row: o.Row + int32(r.Y+dy), Col: o.Col + int32(r.X+dx)}
				edge := dy == 0 || dx == 0 || dy == r.H-1 || dx == r.W-1
				v := data.TerrainFloor
				if edge {
					v = data.TerrainWall
				}
				req.Put(chunk.Terrain, t, v)
			}
		}
		door := geom.TileCoord{Row: o.Row + int32(r.Y+r.H-1), Col: o.Col + int32(r.X+r.W/2)}
		req.Put(chunk.Terrain, door, data.TerrainDoor)
	}
}
