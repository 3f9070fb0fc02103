// Package worker provides per-worker execution state for parallel world
// passes: a private RNG, an optional owned tile range, and bounded
// breadth-first update cascades.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/tilerealm/worldcore/internal/geom"
)

// Exec is the state private to one worker. It is never shared between
// goroutines; a Pool hands each of its slots exactly one Exec, created the
// first time the slot runs.
type Exec struct {
	id     int
	rng    *rand.Rand
	seed   int64
	bound  bool
	region geom.Rect
	budget int
}

// NewExec returns an unbound Exec seeded from the wall clock. budget is the
// step limit for cascades started from it.
func NewExec(id int, budget int) *Exec {
	seed := time.Now().UnixNano() ^ int64(id)<<40
	return &Exec{
		id:     id,
		rng:    rand.New(rand.NewSource(seed)),
		seed:   seed,
		budget: budget,
	}
}

func (e *Exec) ID() int { return e.id }

// Rand returns the worker's private RNG.
func (e *Exec) Rand() *rand.Rand { return e.rng }

// Seed returns the seed the RNG was last reset to.
func (e *Exec) Seed() int64 { return e.seed }

// Reseed resets the RNG, e.g. to a per-chunk seed so results do not depend
// on which worker ran the chunk.
func (e *Exec) Reseed(seed int64) {
	e.seed = seed
	e.rng.Seed(seed)
}

// Bind assigns the worker an explicit seed and the tile range it owns for the
// current pass.
func (e *Exec) Bind(seed int64, region geom.Rect) {
	e.Reseed(seed)
	e.region = region
	e.bound = true
}

// Unbind drops the assigned range. The RNG keeps its current state.
func (e *Exec) Unbind() {
	e.region = geom.Rect{}
	e.bound = false
}

// Region returns the owned tile range, if bound.
func (e *Exec) Region() (geom.Rect, bool) {
	return e.region, e.bound
}

// Owns reports whether t lies in the bound range. An unbound Exec owns nothing.
func (e *Exec) Owns(t geom.TileCoord) bool {
	return e.bound && e.region.Contains(t)
}

// Budget is the cascade step limit.
func (e *Exec) Budget() int { return e.budget }

// Cascade starts a fresh bounded work queue.
func (e *Exec) Cascade() *Cascade {
	return NewCascade(e.budget)
}

type execKey struct{}

// WithExec attaches e to ctx so code further down a pass can reuse it.
func WithExec(ctx context.Context, e *Exec) context.Context {
	return context.WithValue(ctx, execKey{}, e)
}

// FromContext returns the Exec attached by WithExec.
func FromContext(ctx context.Context) (*Exec, bool) {
	e, ok := ctx.Value(execKey{}).(*Exec)
	return e, ok
}
