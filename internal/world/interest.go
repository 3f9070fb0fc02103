package world

import "github.com/tilerealm/worldcore/internal/geom"

// Interest tracks which observers (player sessions, simulation agents) stand
// in which chunk, so passes can be limited to the area someone can see.
// Cells are chunks: a 3x3 neighbourhood covers anything within one chunk.
// Accessed only from the tick goroutine, so there are no locks.
type Interest struct {
	cells map[geom.ChunkCoord]map[uint64]struct{} // chunk → set of observer IDs
}

func NewInterest() *Interest {
	return &Interest{
		cells: make(map[geom.ChunkCoord]map[uint64]struct{}),
	}
}

// Add places an observer at t.
func (g *Interest) Add(id uint64, t geom.TileCoord) {
	k, _ := geom.ToChunk(t)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[uint64]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
}

// Remove takes an observer out.
func (g *Interest) Remove(id uint64, t geom.TileCoord) {
	k, _ := geom.ToChunk(t)
	cell := g.cells[k]
	if cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// Move updates an observer's cell when its position changes.
func (g *Interest) Move(id uint64, from, to geom.TileCoord) {
	oldK, _ := geom.ToChunk(from)
	newK, _ := geom.ToChunk(to)
	if oldK == newK {
		return
	}
	g.Remove(id, from)
	g.Add(id, to)
}

// Nearby returns every observer in the 3x3 chunks around t. Callers do
// fine-grained distance filtering.
func (g *Interest) Nearby(t geom.TileCoord) []uint64 {
	c, _ := geom.ToChunk(t)
	var result []uint64
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for id := range g.cells[geom.ChunkCoord{X: c.X + dx, Y: c.Y + dy}] {
				result = append(result, id)
			}
		}
	}
	return result
}

// Observed returns the tile rectangles, radius chunks around every occupied
// chunk, that someone can currently see.
func (g *Interest) Observed(radius int32) []geom.Rect {
	out := make([]geom.Rect, 0, len(g.cells))
	for c := range g.cells {
		o := c.Origin()
		out = append(out, geom.Rect{
			Min: geom.TileCoord{Row: o.Row - radius*geom.ChunkSize, Col: o.Col - radius*geom.ChunkSize},
			Max: geom.TileCoord{Row: o.Row + (radius+1)*geom.ChunkSize, Col: o.Col + (radius+1)*geom.ChunkSize},
		})
	}
	return out
}

// Len returns the number of occupied chunks.
func (g *Interest) Len() int { return len(g.cells) }
