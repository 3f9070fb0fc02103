package gen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/codec"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
)

// genFunc is a test routine that counts its invocations.
type genFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req *Request) error
}

func (g *genFunc) Name() string { return "test" }

func (g *genFunc) Generate(ctx context.Context, req *Request) error {
	g.calls.Add(1)
	return g.fn(ctx, req)
}

func fillGrass(ctx context.Context, req *Request) error {
	for i := range req.Terrain {
		req.Terrain[i] = data.TerrainGrass
		req.Biome[i] = data.BiomePlains
	}
	return nil
}

func newTestScheduler(t *testing.T, g Generator, mod func(*Options)) (*Scheduler, *chunk.Layers) {
	t.Helper()
	table := data.DefaultWorldTypes()
	layers := chunk.NewLayers(10 * time.Millisecond)
	opts := Options{
		Seed:      42,
		Type:      table.Get("overworld"),
		Terrains:  table.Terrains(),
		Layers:    layers,
		Generator: g,
	}
	if mod != nil {
		mod(&opts)
	}
	return NewScheduler(opts), layers
}

func TestEnsureGeneratesOnceUnderConcurrency(t *testing.T) {
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		time.Sleep(20 * time.Millisecond)
		for i := range req.Terrain {
			req.Terrain[i] = uint16(req.Exec.Rand().Intn(5))
		}
		return nil
	}}
	s, layers := newTestScheduler(t, g, nil)
	c := geom.ChunkCoord{X: 3, Y: -2}

	const n = 8
	var wg sync.WaitGroup
	snaps := make([][]uint16, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errs[i] = s.Ensure(context.Background(), c); errs[i] != nil {
				return
			}
			ch, ok := layers.Terrain.Get(c)
			if !ok {
				errs[i] = errors.New("chunk not ready after Ensure")
				return
			}
			snaps[i], _ = ch.Snapshot(nil)
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, snaps[0], snaps[i])
	}
	assert.EqualValues(t, 1, g.calls.Load())
	assert.EqualValues(t, 1, s.Stats().Generated)
}

func TestFailedGenerationLeavesChunkAbsent(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		if fail.Load() {
			return errors.New("boom")
		}
		return fillGrass(ctx, req)
	}}
	s, layers := newTestScheduler(t, g, nil)
	c := geom.ChunkCoord{X: 1, Y: 1}

	err := s.Ensure(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	_, ok := layers.Get(c)
	assert.False(t, ok)
	assert.Equal(t, 0, layers.Terrain.Len())
	assert.EqualValues(t, 1, s.Stats().Failed)

	fail.Store(false)
	require.NoError(t, s.Ensure(context.Background(), c))
	_, ok = layers.Get(c)
	assert.True(t, ok)
	assert.EqualValues(t, 2, g.calls.Load())
}

func TestGeneratorPanicBecomesError(t *testing.T) {
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		panic("bad routine")
	}}
	s, layers := newTestScheduler(t, g, nil)

	err := s.Ensure(context.Background(), geom.ChunkCoord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad routine")
	assert.Equal(t, 0, layers.Terrain.Len())
}

func TestDerivedLayers(t *testing.T) {
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		_ = fillGrass(ctx, req)
		req.Terrain[geom.Local{Row: 0, Col: 1}.Index()] = data.TerrainWall
		req.Fluid[geom.Local{Row: 2, Col: 0}.Index()] = 5
		return nil
	}}
	s, layers := newTestScheduler(t, g, nil)
	c := geom.ChunkCoord{}
	require.NoError(t, s.Ensure(context.Background(), c))

	set, ok := layers.Get(c)
	require.True(t, ok)
	assert.EqualValues(t, 1, set.Passability.At(nil, geom.Local{Row: 0, Col: 0}))
	assert.EqualValues(t, 0, set.Passability.At(nil, geom.Local{Row: 0, Col: 1}))
	// Deep water keeps the terrain walkable but blocks traversal.
	assert.EqualValues(t, 1, set.Passability.At(nil, geom.Local{Row: 2, Col: 0}))

	// (0,0): up and left are outside any resident chunk, right is a wall.
	assert.EqualValues(t, 1<<2, set.Connectivity.At(nil, geom.Local{Row: 0, Col: 0}))
	// (1,0): up open, down blocked by fluid, right open.
	assert.EqualValues(t, 1<<0|1<<3, set.Connectivity.At(nil, geom.Local{Row: 1, Col: 0}))
	for _, k := range chunk.Kinds {
		assert.EqualValues(t, 1, set.Version(k), k.String())
	}
}

func TestSpillIntoAbsentChunkIsStashed(t *testing.T) {
	target := geom.TileCoord{Row: 3, Col: geom.ChunkSize + 2}
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		_ = fillGrass(ctx, req)
		if req.Coord == (geom.ChunkCoord{}) {
			req.Put(chunk.Terrain, target, data.TerrainDoor)
		}
		return nil
	}}
	s, layers := newTestScheduler(t, g, nil)

	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{}))
	assert.Equal(t, 1, s.Pending())
	_, ok := layers.Get(geom.ChunkCoord{X: 1})
	assert.False(t, ok, "spill must not materialise its target")

	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{X: 1}))
	assert.Equal(t, 0, s.Pending())
	set, ok := layers.Get(geom.ChunkCoord{X: 1})
	require.True(t, ok)
	_, l := geom.ToChunk(target)
	assert.Equal(t, data.TerrainDoor, set.Terrain.At(nil, l))
	assert.EqualValues(t, 1, set.Version(chunk.Terrain))
}

func TestSpillIntoResidentChunkBumpsVersion(t *testing.T) {
	target := geom.TileCoord{Row: geom.ChunkSize + 1, Col: 4}
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		_ = fillGrass(ctx, req)
		if req.Coord == (geom.ChunkCoord{}) {
			req.Put(chunk.Terrain, target, data.TerrainWall)
			req.Put(chunk.Fluid, target, 2)
		}
		return nil
	}}
	var spilled []geom.TileCoord
	s, layers := newTestScheduler(t, g, func(o *Options) {
		o.OnSpill = func(ctx context.Context, tiles []geom.TileCoord) {
			spilled = append(spilled, tiles...)
		}
	})
	below := geom.ChunkCoord{Y: 1}
	require.NoError(t, s.Ensure(context.Background(), below))
	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{}))

	set, ok := layers.Get(below)
	require.True(t, ok)
	_, l := geom.ToChunk(target)
	assert.Equal(t, data.TerrainWall, set.Terrain.At(nil, l))
	assert.EqualValues(t, 2, set.Fluid.At(nil, l))
	assert.EqualValues(t, 2, set.Version(chunk.Terrain))
	assert.EqualValues(t, 2, set.Version(chunk.Fluid))
	assert.Equal(t, []geom.TileCoord{target, target}, spilled)
	assert.EqualValues(t, 2, s.Stats().Spilled)
}

func TestSpillOutsideBoundsDropped(t *testing.T) {
	bounds := geom.Rect{Max: geom.TileCoord{Row: geom.ChunkSize, Col: geom.ChunkSize}}
	g := &genFunc{fn: func(ctx context.Context, req *Request) error {
		req.Put(chunk.Terrain, geom.TileCoord{Row: 0, Col: geom.ChunkSize}, data.TerrainWall)
		return fillGrass(ctx, req)
	}}
	s, _ := newTestScheduler(t, g, func(o *Options) { o.Bounds = &bounds })
	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{}))
	assert.Equal(t, 0, s.Pending())
}

func TestLoaderRestoresInsteadOfGenerating(t *testing.T) {
	g := &genFunc{fn: fillGrass}
	loader := LoaderFunc(func(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error) {
		if c != (geom.ChunkCoord{X: 2}) {
			return nil, nil
		}
		values := make([]uint16, geom.ChunkArea)
		for i := range values {
			values[i] = data.TerrainSand
		}
		return []codec.Frame{{Kind: chunk.Terrain, Version: 7, Values: values}}, nil
	})
	s, layers := newTestScheduler(t, g, func(o *Options) { o.Loader = loader })

	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{X: 2}))
	assert.EqualValues(t, 0, g.calls.Load())
	set, ok := layers.Get(geom.ChunkCoord{X: 2})
	require.True(t, ok)
	assert.Equal(t, data.TerrainSand, set.Terrain.At(nil, geom.Local{Row: 5, Col: 5}))
	assert.EqualValues(t, 7, set.Version(chunk.Terrain))
	assert.False(t, set.Terrain.Dirty())
	assert.EqualValues(t, 1, set.Passability.At(nil, geom.Local{}))

	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{X: 3}))
	assert.EqualValues(t, 1, g.calls.Load())
	st := s.Stats()
	assert.EqualValues(t, 1, st.Loaded)
	assert.EqualValues(t, 1, st.Generated)
}

func TestLoaderErrorAborts(t *testing.T) {
	g := &genFunc{fn: fillGrass}
	loader := LoaderFunc(func(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error) {
		return nil, errors.New("db down")
	})
	s, layers := newTestScheduler(t, g, func(o *Options) { o.Loader = loader })

	require.Error(t, s.Ensure(context.Background(), geom.ChunkCoord{}))
	assert.EqualValues(t, 0, g.calls.Load())
	assert.Equal(t, 0, layers.Terrain.Len())
}

func TestRegenerate(t *testing.T) {
	g := &genFunc{fn: fillGrass}
	var commits atomic.Int32
	s, layers := newTestScheduler(t, g, func(o *Options) {
		o.OnCommit = func(ctx context.Context, c geom.ChunkCoord) { commits.Add(1) }
	})
	c := geom.ChunkCoord{X: -1, Y: -1}
	require.NoError(t, s.Ensure(context.Background(), c))
	first, _ := layers.Terrain.Get(c)

	require.NoError(t, s.Regenerate(context.Background(), c))
	second, ok := layers.Terrain.Get(c)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, chunk.StateFailed, first.State())
	assert.EqualValues(t, 2, g.calls.Load())
	assert.EqualValues(t, 2, commits.Load())
}

func TestLockedNeighbourDoesNotStallDistantChunks(t *testing.T) {
	g := &genFunc{fn: fillGrass}
	s, layers := newTestScheduler(t, g, nil)
	ctx := context.Background()
	require.NoError(t, s.Ensure(ctx, geom.ChunkCoord{}))
	set, ok := layers.Get(geom.ChunkCoord{})
	require.True(t, ok)
	h := set.Passability.Lock(nil)

	near := make(chan error, 1)
	go func() { near <- s.Ensure(ctx, geom.ChunkCoord{X: 1}) }()
	time.Sleep(50 * time.Millisecond)

	far := make(chan error, 1)
	go func() { far <- s.Ensure(ctx, geom.ChunkCoord{X: 100, Y: 100}) }()
	select {
	case err := <-far:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		h.Unlock()
		t.Fatal("distant chunk waited for a locked neighbour of another chunk")
	}

	select {
	case <-near:
		t.Fatal("chunk next to a locked neighbour committed before the unlock")
	default:
	}
	h.Unlock()
	require.NoError(t, <-near)
	_, ok = layers.Get(geom.ChunkCoord{X: 1})
	assert.True(t, ok)
}
