package worker

import (
	"github.com/zyedidia/generic/mapset"

	"github.com/tilerealm/worldcore/internal/geom"
)

// Cascade is a breadth-first work queue of tiles whose derived state must be
// recomputed. Each tile is processed at most once, and at most budget steps
// run in total, so a cascade always terminates.
type Cascade struct {
	queue  []geom.TileCoord
	head   int
	seen   mapset.Set[geom.TileCoord]
	budget int
	steps  int
}

// CascadeResult summarises a finished cascade.
type CascadeResult struct {
	Steps     int
	Pending   int  // tiles left in the queue when the budget ran out
	Exhausted bool // budget ran out before the queue emptied
}

// NewCascade returns an empty cascade. A budget <= 0 allows no steps.
func NewCascade(budget int) *Cascade {
	return &Cascade{
		seen:   mapset.New[geom.TileCoord](),
		budget: budget,
	}
}

// Push enqueues tiles not already seen by this cascade.
func (c *Cascade) Push(tiles ...geom.TileCoord) {
	for _, t := range tiles {
		if c.seen.Has(t) {
			continue
		}
		c.seen.Put(t)
		c.queue = append(c.queue, t)
	}
}

// Len is the number of queued, unprocessed tiles.
func (c *Cascade) Len() int { return len(c.queue) - c.head }

// Run drains the queue, calling step for each tile. Tiles returned by step
// are pushed behind the current frontier. Run stops at the first error.
func (c *Cascade) Run(step func(geom.TileCoord) ([]geom.TileCoord, error)) (CascadeResult, error) {
	for c.head < len(c.queue) {
		if c.steps >= c.budget {
			return CascadeResult{Steps: c.steps, Pending: c.Len(), Exhausted: true}, nil
		}
		t := c.queue[c.head]
		c.head++
		c.steps++
		next, err := step(t)
		if err != nil {
			return CascadeResult{Steps: c.steps, Pending: c.Len()}, err
		}
		c.Push(next...)
	}
	return CascadeResult{Steps: c.steps}, nil
}
