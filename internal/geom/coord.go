package geom

import (
	"errors"
	"fmt"
)

// Chunk dimensions. ChunkSize is a power of two so tile→chunk mapping is a
// shift and a mask, which also floors negative coordinates correctly.
const (
	ChunkShift = 4
	ChunkSize  = 1 << ChunkShift // 16
	ChunkArea  = ChunkSize * ChunkSize
	chunkMask  = ChunkSize - 1
)

// ErrOutOfBounds is returned for coordinates outside a world's bounds.
var ErrOutOfBounds = errors.New("coordinate out of bounds")

// ChunkCoord addresses one ChunkSize×ChunkSize block. X is the chunk column,
// Y the chunk row.
type ChunkCoord struct {
	X int32
	Y int32
}

// TileCoord is an absolute tile position.
type TileCoord struct {
	Row int32
	Col int32
}

// Local is a tile offset inside its chunk (0..ChunkSize-1 on both axes).
type Local struct {
	Row uint8
	Col uint8
}

// ToChunk splits an absolute tile coordinate into its chunk and local offset.
func ToChunk(t TileCoord) (ChunkCoord, Local) {
	return ChunkCoord{X: t.Col >> ChunkShift, Y: t.Row >> ChunkShift},
		Local{Row: uint8(t.Row & chunkMask), Col: uint8(t.Col & chunkMask)}
}

// FromChunk is the inverse of ToChunk.
func FromChunk(c ChunkCoord, l Local) TileCoord {
	return TileCoord{
		Row: c.Y<<ChunkShift | int32(l.Row&chunkMask),
		Col: c.X<<ChunkShift | int32(l.Col&chunkMask),
	}
}

// Index returns the row-major linear index of l inside a chunk.
func (l Local) Index() int {
	return int(l.Row)<<ChunkShift | int(l.Col)
}

// LocalAt is the inverse of Local.Index.
func LocalAt(i int) Local {
	return Local{Row: uint8(i >> ChunkShift), Col: uint8(i & chunkMask)}
}

// Valid reports whether l addresses a tile inside a chunk.
func (l Local) Valid() bool {
	return l.Row < ChunkSize && l.Col < ChunkSize
}

// Origin returns the tile at local offset (0,0).
func (c ChunkCoord) Origin() TileCoord {
	return FromChunk(c, Local{})
}

// Bounds returns the tile rectangle covered by c.
func (c ChunkCoord) Bounds() Rect {
	o := c.Origin()
	return Rect{Min: o, Max: TileCoord{Row: o.Row + ChunkSize, Col: o.Col + ChunkSize}}
}

// Neighbors returns the four edge-adjacent chunks: up, left, down, right.
func (c ChunkCoord) Neighbors() [4]ChunkCoord {
	return [4]ChunkCoord{
		{X: c.X, Y: c.Y - 1},
		{X: c.X - 1, Y: c.Y},
		{X: c.X, Y: c.Y + 1},
		{X: c.X + 1, Y: c.Y},
	}
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("chunk(%d,%d)", c.X, c.Y)
}

// Steps lists the four unit moves in canonical order: up, left, down, right.
var Steps = [4]TileCoord{
	{Row: -1, Col: 0},
	{Row: 0, Col: -1},
	{Row: 1, Col: 0},
	{Row: 0, Col: 1},
}

// Add offsets t by d.
func (t TileCoord) Add(d TileCoord) TileCoord {
	return TileCoord{Row: t.Row + d.Row, Col: t.Col + d.Col}
}

// Neighbors returns the four edge-adjacent tiles in Steps order.
func (t TileCoord) Neighbors() [4]TileCoord {
	var out [4]TileCoord
	for i, d := range Steps {
		out[i] = t.Add(d)
	}
	return out
}

func (t TileCoord) String() string {
	return fmt.Sprintf("(%d,%d)", t.Row, t.Col)
}

// Manhattan returns |Δrow| + |Δcol|.
func Manhattan(a, b TileCoord) int {
	return abs(int(a.Row)-int(b.Row)) + abs(int(a.Col)-int(b.Col))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
