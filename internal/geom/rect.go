package geom

import "fmt"

// Rect is a half-open tile rectangle: Min is inclusive, Max exclusive.
type Rect struct {
	Min TileCoord
	Max TileCoord
}

// RectAround returns the square of the given radius (in tiles) centred on c.
func RectAround(c TileCoord, radius int32) Rect {
	return Rect{
		Min: TileCoord{Row: c.Row - radius, Col: c.Col - radius},
		Max: TileCoord{Row: c.Row + radius + 1, Col: c.Col + radius + 1},
	}
}

// Empty reports whether r contains no tiles.
func (r Rect) Empty() bool {
	return r.Min.Row >= r.Max.Row || r.Min.Col >= r.Max.Col
}

// Contains reports whether t lies inside r.
func (r Rect) Contains(t TileCoord) bool {
	return t.Row >= r.Min.Row && t.Row < r.Max.Row &&
		t.Col >= r.Min.Col && t.Col < r.Max.Col
}

// ContainsChunk reports whether every tile of c lies inside r.
func (r Rect) ContainsChunk(c ChunkCoord) bool {
	b := c.Bounds()
	return r.Contains(b.Min) && r.Contains(TileCoord{Row: b.Max.Row - 1, Col: b.Max.Col - 1})
}

// Intersect returns the overlap of r and o (possibly empty).
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		Min: TileCoord{Row: max(r.Min.Row, o.Min.Row), Col: max(r.Min.Col, o.Min.Col)},
		Max: TileCoord{Row: min(r.Max.Row, o.Max.Row), Col: min(r.Max.Col, o.Max.Col)},
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Area returns the number of tiles in r.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return int(r.Max.Row-r.Min.Row) * int(r.Max.Col-r.Min.Col)
}

// Chunks returns every chunk overlapping r, row by row.
func (r Rect) Chunks() []ChunkCoord {
	if r.Empty() {
		return nil
	}
	lo, _ := ToChunk(r.Min)
	hi, _ := ToChunk(TileCoord{Row: r.Max.Row - 1, Col: r.Max.Col - 1})
	out := make([]ChunkCoord, 0, int(hi.X-lo.X+1)*int(hi.Y-lo.Y+1))
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			out = append(out, ChunkCoord{X: x, Y: y})
		}
	}
	return out
}

// Each calls fn for every tile in r in row-major order.
func (r Rect) Each(fn func(TileCoord)) {
	for row := r.Min.Row; row < r.Max.Row; row++ {
		for col := r.Min.Col; col < r.Max.Col; col++ {
			fn(TileCoord{Row: row, Col: col})
		}
	}
}

// Split partitions r into at most n disjoint bands of whole chunk rows.
// Every chunk overlapping r falls in exactly one band, so workers owning
// different bands never touch the same chunk.
func Split(r Rect, n int) []Rect {
	if r.Empty() {
		return nil
	}
	if n < 1 {
		n = 1
	}
	lo, _ := ToChunk(r.Min)
	hi, _ := ToChunk(TileCoord{Row: r.Max.Row - 1, Col: r.Max.Col - 1})
	rows := int(hi.Y - lo.Y + 1)
	if n > rows {
		n = rows
	}
	out := make([]Rect, 0, n)
	start := lo.Y
	for i := 0; i < n; i++ {
		count := int32(rows / n)
		if i < rows%n {
			count++
		}
		band := Rect{
			Min: TileCoord{Row: start << ChunkShift, Col: r.Min.Col},
			Max: TileCoord{Row: (start + count) << ChunkShift, Col: r.Max.Col},
		}
		out = append(out, band.Intersect(r))
		start += count
	}
	return out
}

// Check returns ErrOutOfBounds (wrapped with t) when bounds is non-nil and
// does not contain t.
func Check(bounds *Rect, t TileCoord) error {
	if bounds != nil && !bounds.Contains(t) {
		return fmt.Errorf("tile %s: %w", t, ErrOutOfBounds)
	}
	return nil
}

// CheckChunk is Check for a whole chunk: the chunk must overlap bounds.
func CheckChunk(bounds *Rect, c ChunkCoord) error {
	if bounds != nil && bounds.Intersect(c.Bounds()).Empty() {
		return fmt.Errorf("%s: %w", c, ErrOutOfBounds)
	}
	return nil
}

func (r Rect) String() string {
	return fmt.Sprintf("[%s..%s)", r.Min, r.Max)
}
