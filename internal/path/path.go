// Package path finds shortest routes over a 4-connected tile grid.
package path

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/tilerealm/worldcore/internal/geom"
)

// ErrInvalidQuery is returned for queries that cannot be searched at all.
var ErrInvalidQuery = errors.New("invalid path query")

// Grid answers whether a tile can be entered. Out-of-bounds tiles should
// report false, not an error.
type Grid interface {
	Passable(ctx context.Context, t geom.TileCoord) (bool, error)
}

// GridFunc adapts a function to Grid.
type GridFunc func(ctx context.Context, t geom.TileCoord) (bool, error)

func (f GridFunc) Passable(ctx context.Context, t geom.TileCoord) (bool, error) { return f(ctx, t) }

// Query is one search request. Cap bounds the number of frontier pops.
type Query struct {
	Start geom.TileCoord
	Goal  geom.TileCoord
	Cap   int
}

// Result is the outcome of a search. A nil Path means no path: the frontier
// emptied or the cap ran out, which callers must treat the same way.
type Result struct {
	Path       []geom.TileCoord
	Iterations int
	Capped     bool
}

// Found reports whether a path was found.
func (r Result) Found() bool { return r.Path != nil }

type node struct {
	tile geom.TileCoord
	g, f int
	seq  int
}

type frontier []node

func (q frontier) Len() int { return len(q) }
func (q frontier) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}
func (q frontier) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *frontier) Push(x any)   { *q = append(*q, x.(node)) }
func (q *frontier) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

// Find runs A* from q.Start to q.Goal with the Manhattan heuristic and unit
// step cost. Neighbours expand in geom.Steps order. The search runs to
// completion on the calling goroutine; errors only come from invalid queries
// or from the grid itself.
func Find(ctx context.Context, grid Grid, q Query) (Result, error) {
	if q.Cap <= 0 {
		return Result{}, fmt.Errorf("%w: iteration cap %d", ErrInvalidQuery, q.Cap)
	}
	for _, t := range [2]geom.TileCoord{q.Start, q.Goal} {
		ok, err := grid.Passable(ctx, t)
		if err != nil {
			return Result{}, fmt.Errorf("path %s -> %s: %w", q.Start, q.Goal, err)
		}
		if !ok {
			return Result{}, nil
		}
	}
	if q.Start == q.Goal {
		return Result{Path: []geom.TileCoord{q.Start}}, nil
	}

	best := map[geom.TileCoord]int{q.Start: 0}
	prev := make(map[geom.TileCoord]geom.TileCoord)
	open := &frontier{{tile: q.Start, f: geom.Manhattan(q.Start, q.Goal)}}
	seq := 1

	var res Result
	for open.Len() > 0 {
		if res.Iterations >= q.Cap {
			res.Capped = true
			return res, nil
		}
		cur := heap.Pop(open).(node)
		res.Iterations++
		if cur.g > best[cur.tile] {
			continue // stale entry
		}
		if cur.tile == q.Goal {
			res.Path = reconstruct(prev, q.Start, q.Goal)
			return res, nil
		}
		for _, n := range cur.tile.Neighbors() {
			g := cur.g + 1
			if old, seen := best[n]; seen && old <= g {
				continue
			}
			ok, err := grid.Passable(ctx, n)
			if err != nil {
				return Result{}, fmt.Errorf("path %s -> %s: %w", q.Start, q.Goal, err)
			}
			if !ok {
				continue
			}
			best[n] = g
			prev[n] = cur.tile
			heap.Push(open, node{tile: n, g: g, f: g + geom.Manhattan(n, q.Goal), seq: seq})
			seq++
		}
	}
	return res, nil
}

func reconstruct(prev map[geom.TileCoord]geom.TileCoord, start, goal geom.TileCoord) []geom.TileCoord {
	out := []geom.TileCoord{goal}
	for t := goal; t != start; {
		t = prev[t]
		out = append(out, t)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
