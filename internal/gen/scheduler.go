package gen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/codec"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/worker"
)

// Loader returns previously stored layer frames of a chunk. A nil slice
// means nothing is stored and the chunk must be generated.
type Loader interface {
	LoadChunk(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error)

func (f LoaderFunc) LoadChunk(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error) {
	return f(ctx, c)
}

// Options configures a Scheduler.
type Options struct {
	Seed      int64
	Type      *data.WorldType
	Terrains  *data.TerrainTable
	Layers    *chunk.Layers
	Generator Generator
	Loader    Loader     // optional
	Bounds    *geom.Rect // optional; spills outside are dropped

	// OnCommit runs after a chunk becomes ready, with no chunk locks held.
	OnCommit func(ctx context.Context, c geom.ChunkCoord)
	// OnSpill runs after spilled tiles were written into resident chunks.
	OnSpill func(ctx context.Context, tiles []geom.TileCoord)

	Log *zap.Logger
}

// Stats counts scheduler outcomes since creation.
type Stats struct {
	Generated uint64
	Loaded    uint64
	Failed    uint64
	Spilled   uint64
}

// Scheduler materialises chunks on first access. For every coordinate the
// routine runs at most once at a time: the reservation holds every layer's
// chunk lock for the whole routine, and concurrent requesters block on that
// lock and then see the committed result.
type Scheduler struct {
	seed     int64
	wt       *data.WorldType
	terrains *data.TerrainTable
	layers   *chunk.Layers
	gen      Generator
	loader   Loader
	bounds   *geom.Rect
	onCommit func(ctx context.Context, c geom.ChunkCoord)
	onSpill  func(ctx context.Context, tiles []geom.TileCoord)
	log      *zap.Logger

	// stashMu orders spill routing against commits: a spill either sees its
	// target ready or lands in the stash before the target drains it.
	stashMu sync.Mutex
	stash   map[geom.ChunkCoord][]Spill

	generated atomic.Uint64
	loaded    atomic.Uint64
	failed    atomic.Uint64
	spilled   atomic.Uint64
}

func NewScheduler(opts Options) *Scheduler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		seed:     opts.Seed,
		wt:       opts.Type,
		terrains: opts.Terrains,
		layers:   opts.Layers,
		gen:      opts.Generator,
		loader:   opts.Loader,
		bounds:   opts.Bounds,
		onCommit: opts.OnCommit,
		onSpill:  opts.OnSpill,
		log:      log,
		stash:    make(map[geom.ChunkCoord][]Spill),
	}
}

// Ensure returns once c is materialised, generating or loading it if absent.
func (s *Scheduler) Ensure(ctx context.Context, c geom.ChunkCoord) error {
	for {
		if _, ok := s.layers.Terrain.Get(c); ok {
			return nil
		}
		p, gate := s.layers.Reserve(c)
		if p == nil {
			if chunk.Wait(gate) == chunk.StateReady {
				return nil
			}
			// The holder failed or the chunk was dropped; look again.
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		return s.materialize(ctx, p)
	}
}

// Regenerate discards c and materialises it again. Stored data, if any,
// is loaded again rather than regenerated.
func (s *Scheduler) Regenerate(ctx context.Context, c geom.ChunkCoord) error {
	s.layers.Drop(c)
	return s.Ensure(ctx, c)
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Generated: s.generated.Load(),
		Loaded:    s.loaded.Load(),
		Failed:    s.failed.Load(),
		Spilled:   s.spilled.Load(),
	}
}

// Pending returns the number of chunks with stashed spills waiting for them.
func (s *Scheduler) Pending() int {
	s.stashMu.Lock()
	defer s.stashMu.Unlock()
	return len(s.stash)
}

func (s *Scheduler) materialize(ctx context.Context, p *chunk.Pending) error {
	c := p.Coord()

	restored, err := s.load(ctx, p)
	if err != nil {
		return s.abort(p, "load", err)
	}

	var spills []Spill
	if restored == nil {
		req := s.request(ctx, p)
		if err := s.run(ctx, req); err != nil {
			return s.abort(p, "generate", err)
		}
		spills = req.Spills()
	}

	// Neighbour locks are taken here, never under stashMu, so a neighbour
	// held exclusively stalls only this chunk.
	edge := s.border(c)

	s.stashMu.Lock()
	changed := s.drain(p, restored)
	s.derive(p, restored, changed, edge)
	p.Commit()
	s.stashMu.Unlock()

	if restored != nil {
		s.loaded.Add(1)
		s.log.Debug("chunk loaded", zap.Stringer("chunk", c))
	} else {
		s.generated.Add(1)
		s.log.Debug("chunk generated",
			zap.Stringer("chunk", c),
			zap.String("generator", s.gen.Name()),
			zap.Int("spills", len(spills)))
	}

	if s.onCommit != nil {
		s.onCommit(ctx, c)
	}
	if len(spills) > 0 {
		s.route(ctx, spills)
	}
	return nil
}

func (s *Scheduler) abort(p *chunk.Pending, stage string, err error) error {
	p.Abort()
	s.failed.Add(1)
	s.log.Warn("chunk materialisation failed",
		zap.Stringer("chunk", p.Coord()),
		zap.String("stage", stage),
		zap.Error(err))
	return fmt.Errorf("%s chunk %s: %w", stage, p.Coord(), err)
}

// load installs stored frames. It returns the set of restored kinds, or nil
// if nothing usable was stored.
func (s *Scheduler) load(ctx context.Context, p *chunk.Pending) (map[chunk.Kind]bool, error) {
	if s.loader == nil {
		return nil, nil
	}
	frames, err := s.loader.LoadChunk(ctx, p.Coord())
	if err != nil || len(frames) == 0 {
		return nil, err
	}
	restored := make(map[chunk.Kind]bool, len(frames))
	for _, f := range frames {
		if f.Kind < chunk.Terrain || f.Kind > chunk.Connectivity || len(f.Values) != geom.ChunkArea {
			return nil, fmt.Errorf("stored %s frame: %w", f.Kind, codec.ErrCorrupt)
		}
		restored[f.Kind] = true
	}
	if !restored[chunk.Terrain] {
		return nil, nil
	}
	for _, f := range frames {
		p.Restore(f.Kind, f.Values, f.Version)
	}
	return restored, nil
}

func (s *Scheduler) request(ctx context.Context, p *chunk.Pending) *Request {
	exec, ok := worker.FromContext(ctx)
	if !ok {
		exec = worker.NewExec(-1, 0)
	}
	exec.Reseed(ChunkSeed(s.seed, p.Coord()))
	return &Request{
		Seed:    s.seed,
		Type:    s.wt,
		Coord:   p.Coord(),
		Exec:    exec,
		Terrain: p.TerrainTiles(),
		Biome:   p.ByteTiles(chunk.Biome),
		Fluid:   p.ByteTiles(chunk.Fluid),
		layers:  s.layers,
	}
}

func (s *Scheduler) run(ctx context.Context, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator %s panicked: %v", s.gen.Name(), r)
		}
	}()
	return s.gen.Generate(ctx, req)
}

// drain applies spills other chunks left for p and reports whether there
// were any. Caller holds stashMu.
func (s *Scheduler) drain(p *chunk.Pending, restored map[chunk.Kind]bool) bool {
	c := p.Coord()
	pending := s.stash[c]
	if len(pending) == 0 {
		return false
	}
	delete(s.stash, c)
	for _, sp := range pending {
		_, l := geom.ToChunk(sp.Tile)
		i := l.Index()
		switch sp.Kind {
		case chunk.Terrain:
			p.TerrainTiles()[i] = sp.Value
			if restored != nil {
				p.Terrain.Touch(p.Hold(chunk.Terrain))
			}
		default:
			p.ByteTiles(sp.Kind)[i] = uint8(sp.Value)
			if restored != nil {
				p.Byte(sp.Kind).Touch(p.Hold(sp.Kind))
			}
		}
	}
	s.log.Debug("applied stashed spills", zap.Stringer("chunk", c), zap.Int("count", len(pending)))
	return true
}

// border samples whether each tile just outside c is traversable. Absent
// neighbours read as closed; OnCommit refreshes the edges once both sides
// are resident.
func (s *Scheduler) border(c geom.ChunkCoord) map[geom.TileCoord]bool {
	edge := make(map[geom.TileCoord]bool, 4*geom.ChunkSize)
	b := c.Bounds()
	for _, nc := range c.Neighbors() {
		set, ok := s.layers.Get(nc)
		if !ok {
			continue
		}
		for i := int32(0); i < geom.ChunkSize; i++ {
			var t geom.TileCoord
			switch {
			case nc.Y < c.Y:
				t = geom.TileCoord{Row: b.Min.Row - 1, Col: b.Min.Col + i}
			case nc.Y > c.Y:
				t = geom.TileCoord{Row: b.Max.Row, Col: b.Min.Col + i}
			case nc.X < c.X:
				t = geom.TileCoord{Row: b.Min.Row + i, Col: b.Min.Col - 1}
			default:
				t = geom.TileCoord{Row: b.Min.Row + i, Col: b.Max.Col}
			}
			_, l := geom.ToChunk(t)
			edge[t] = s.wt.Traversable(set.Passability.At(nil, l), set.Fluid.At(nil, l))
		}
	}
	return edge
}

// derive fills the passability and connectivity buffers of p. Restored
// derived layers are kept unless stashed spills changed their inputs.
// edge is the neighbour ring sampled by border.
func (s *Scheduler) derive(p *chunk.Pending, restored map[chunk.Kind]bool, changed bool, edge map[geom.TileCoord]bool) {
	need := func(k chunk.Kind) bool { return restored == nil || !restored[k] || changed }
	bump := func(k chunk.Kind) {
		if restored != nil && restored[k] {
			p.Byte(k).Touch(p.Hold(k))
		}
	}

	terrain := p.TerrainTiles()
	pass := p.ByteTiles(chunk.Passability)
	fluid := p.ByteTiles(chunk.Fluid)
	conn := p.ByteTiles(chunk.Connectivity)

	if need(chunk.Passability) {
		for i := range pass {
			pass[i] = Passability(s.terrains, terrain[i])
		}
		bump(chunk.Passability)
	}
	if !need(chunk.Connectivity) {
		return
	}

	c := p.Coord()
	open := func(t geom.TileCoord) bool {
		tc, l := geom.ToChunk(t)
		if tc == c {
			i := l.Index()
			return s.wt.Traversable(pass[i], fluid[i])
		}
		return edge[t]
	}
	for i := range conn {
		conn[i] = Mask(geom.FromChunk(c, geom.LocalAt(i)), open)
	}
	bump(chunk.Connectivity)
}

// route delivers spills to their chunks: resident chunks are written under
// their own locks, absent or pending ones get the spill stashed.
func (s *Scheduler) route(ctx context.Context, spills []Spill) {
	direct := make(map[geom.ChunkCoord][]Spill)

	s.stashMu.Lock()
	for _, sp := range spills {
		if s.bounds != nil && !s.bounds.Contains(sp.Tile) {
			continue
		}
		if sp.Kind == chunk.Passability || sp.Kind == chunk.Connectivity {
			continue
		}
		s.spilled.Add(1)
		c, _ := geom.ToChunk(sp.Tile)
		if _, ok := s.layers.Terrain.Get(c); ok {
			direct[c] = append(direct[c], sp)
			continue
		}
		s.stash[c] = append(s.stash[c], sp)
	}
	s.stashMu.Unlock()

	var touched []geom.TileCoord
	var retry []Spill
	for c, batch := range direct {
		if !s.apply(c, batch) {
			retry = append(retry, batch...)
			continue
		}
		for _, sp := range batch {
			touched = append(touched, sp.Tile)
		}
	}
	if len(retry) > 0 {
		// Dropped between the check and the lock.
		s.route(ctx, retry)
	}
	if len(touched) > 0 && s.onSpill != nil {
		s.onSpill(ctx, touched)
	}
}

// apply writes spills into the resident chunks at c. It reports false if c
// stopped being ready before its locks were taken.
func (s *Scheduler) apply(c geom.ChunkCoord, batch []Spill) bool {
	set, ok := s.layers.Get(c)
	if !ok {
		return false
	}
	th := set.Terrain.Lock(nil)
	defer th.Unlock()
	if set.Terrain.State() != chunk.StateReady {
		return false
	}
	for _, sp := range batch {
		_, l := geom.ToChunk(sp.Tile)
		if sp.Kind == chunk.Terrain {
			set.Terrain.Set(th, l, sp.Value)
			continue
		}
		set.Byte(sp.Kind).Set(nil, l, uint8(sp.Value))
	}
	return true
}

// Passability is the derived passability byte of a terrain id.
func Passability(terrains *data.TerrainTable, id uint16) uint8 {
	if terrains.Walkable(id) {
		return 1
	}
	return 0
}

// Mask computes the connectivity mask of t: bit i is set if the neighbour
// in geom.Steps[i] direction is open.
func Mask(t geom.TileCoord, open func(geom.TileCoord) bool) uint8 {
	var m uint8
	for i, n := range t.Neighbors() {
		if open(n) {
			m |= 1 << i
		}
	}
	return m
}
