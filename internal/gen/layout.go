package gen

import (
	"math/rand"
)

// Grid is a small boolean layout: true marks an open (walkable) cell.
type Grid struct {
	W, H  int
	Cells []bool
}

func NewGrid(w, h int) *Grid {
	return &Grid{W: w, H: h, Cells: make([]bool, w*h)}
}

func (g *Grid) In(x, y int) bool { return x >= 0 && y >= 0 && x < g.W && y < g.H }

func (g *Grid) Open(x, y int) bool { return g.In(x, y) && g.Cells[y*g.W+x] }

func (g *Grid) Set(x, y int, open bool) {
	if g.In(x, y) {
		g.Cells[y*g.W+x] = open
	}
}

// Maze carves a perfect maze with the recursive backtracker. Cells sit on
// odd coordinates and walls on even ones, so w and h should be odd. Every
// open cell is reachable from every other.
func Maze(rng *rand.Rand, w, h int) *Grid {
	g := NewGrid(w, h)
	if w < 3 || h < 3 {
		return g
	}
	type cell struct{ x, y int }
	dirs := [4]cell{{0, -2}, {-2, 0}, {0, 2}, {2, 0}}

	start := cell{1, 1}
	g.Set(start.x, start.y, true)
	stack := []cell{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		var options [4]cell
		n := 0
		for _, d := range dirs {
			nx, ny := cur.x+d.x, cur.y+d.y
			if nx > 0 && ny > 0 && nx < w-1 && ny < h-1 && !g.Open(nx, ny) {
				options[n] = cell{nx, ny}
				n++
			}
		}
		if n == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		next := options[rng.Intn(n)]
		g.Set((cur.x+next.x)/2, (cur.y+next.y)/2, true)
		g.Set(next.x, next.y, true)
		stack = append(stack, next)
	}
	return g
}

// Room is a rectangle in layout space; X, Y is the top-left corner including
// the wall ring.
type Room struct {
	X, Y, W, H int
}

func (r Room) overlaps(o Room, gap int) bool {
	return r.X-gap < o.X+o.W && o.X-gap < r.X+r.W &&
		r.Y-gap < o.Y+o.H && o.Y-gap < r.Y+r.H
}

// Rooms places up to attempts non-overlapping rooms (at least one tile apart)
// with sides in [minSide, maxSide], anywhere whose top-left lies in
// [x0, x1) × [y0, y1).
func Rooms(rng *rand.Rand, x0, y0, x1, y1, attempts, minSide, maxSide int) []Room {
	var out []Room
	if x1 <= x0 || y1 <= y0 || maxSide < minSide {
		return nil
	}
	for i := 0; i < attempts; i++ {
		r := Room{
			X: x0 + rng.Intn(x1-x0),
			Y: y0 + rng.Intn(y1-y0),
			W: minSide + rng.Intn(maxSide-minSide+1),
			H: minSide + rng.Intn(maxSide-minSide+1),
		}
		ok := true
		for _, o := range out {
			if r.overlaps(o, 1) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}
