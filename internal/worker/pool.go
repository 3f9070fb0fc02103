package worker

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tilerealm/worldcore/internal/geom"
)

// Pool runs parallel passes over disjoint tile ranges. It has a fixed number
// of slots; each slot owns one Exec for the pool's lifetime, so an Exec is
// only ever used by the goroutine currently holding its slot.
type Pool struct {
	size   int
	budget int
	slots  chan int
	execs  []*Exec
}

// NewPool creates a pool with size slots (GOMAXPROCS when size <= 0).
func NewPool(size, cascadeBudget int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		size:   size,
		budget: cascadeBudget,
		slots:  make(chan int, size),
		execs:  make([]*Exec, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- i
	}
	return p
}

func (p *Pool) Size() int { return p.size }

// exec returns the slot's Exec, creating it on first use. Only the holder of
// the slot calls this.
func (p *Pool) exec(slot int) *Exec {
	if p.execs[slot] == nil {
		p.execs[slot] = NewExec(slot, p.budget)
	}
	return p.execs[slot]
}

// Run calls fn once per region, in parallel, each on a worker whose Exec is
// bound to that region and to a seed derived from seed and the region's
// index. Regions must not overlap; that is what lets fn skip per-tile
// locking. The first error cancels the pass and is returned.
func (p *Pool) Run(ctx context.Context, seed int64, regions []geom.Rect, fn func(context.Context, *Exec) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i, region := range regions {
		g.Go(func() error {
			var slot int
			select {
			case slot = <-p.slots:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { p.slots <- slot }()

			e := p.exec(slot)
			e.Bind(RegionSeed(seed, i), region)
			defer e.Unbind()
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(WithExec(gctx, e), e)
		})
	}
	return g.Wait()
}

// RegionSeed mixes a pass seed with a region index (splitmix64 finaliser).
func RegionSeed(seed int64, index int) int64 {
	z := uint64(seed) + uint64(index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
