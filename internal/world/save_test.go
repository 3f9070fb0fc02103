package world

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/codec"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/gen"
	"github.com/tilerealm/worldcore/internal/geom"
)

// memStore keeps encoded frames in memory, standing in for persist.ChunkRepo.
type memStore struct {
	codec *codec.Codec
	mu    sync.Mutex
	rows  map[geom.ChunkCoord]map[chunk.Kind][]byte
	calls int
}

func newMemStore(t *testing.T) *memStore {
	c, err := codec.New()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return &memStore{codec: c, rows: make(map[geom.ChunkCoord]map[chunk.Kind][]byte)}
}

func (s *memStore) SaveChunks(ctx context.Context, batch []codec.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for _, rec := range batch {
		row := s.rows[rec.Coord]
		if row == nil {
			row = make(map[chunk.Kind][]byte)
			s.rows[rec.Coord] = row
		}
		for _, f := range rec.Frames {
			b, err := s.codec.Encode(f)
			if err != nil {
				return err
			}
			row[f.Kind] = b
		}
	}
	return nil
}

func (s *memStore) LoadChunk(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []codec.Frame
	for _, b := range s.rows[c] {
		f, err := s.codec.Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *memStore) DeleteWorldChunks(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		n += int64(len(row))
	}
	s.rows = make(map[geom.ChunkCoord]map[chunk.Kind][]byte)
	return n, nil
}

var (
	_ gen.Loader = (*memStore)(nil)
	_ Saver      = (*memStore)(nil)
	_ Purger     = (*memStore)(nil)
)

func TestSaveWritesOnlyDirtyLayers(t *testing.T) {
	store := newMemStore(t)
	w, _ := newTestWorld(t, flatGen{}, nil)
	ctx := context.Background()
	require.NoError(t, w.Ensure(ctx, geom.ChunkCoord{}))

	res, err := w.Save(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Chunks: 1, Frames: len(chunk.Kinds)}, res)

	res, err = w.Save(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)

	_, err = w.SetBiome(ctx, tile(3, 3), data.BiomeForest)
	require.NoError(t, err)
	res, err = w.Save(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Chunks: 1, Frames: 1}, res)
}

func TestSavedChunksLoadInsteadOfGenerating(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	first, _ := newTestWorld(t, flatGen{}, nil)
	_, err := first.SetTerrain(ctx, tile(4, 4), data.TerrainWall)
	require.NoError(t, err)
	_, err = first.SetFluid(ctx, tile(10, 10), 2)
	require.NoError(t, err)
	_, err = first.Save(ctx, store)
	require.NoError(t, err)
	want, _ := first.Version(chunk.Terrain, geom.ChunkCoord{})

	second, cg := newTestWorld(t, flatGen{}, func(o *Options) { o.Loader = store })
	v, err := second.Terrain(ctx, tile(4, 4))
	require.NoError(t, err)
	assert.Equal(t, data.TerrainWall, v)
	f, err := second.Fluid(ctx, tile(10, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 2, f)
	p, err := second.Passability(ctx, tile(4, 4))
	require.NoError(t, err)
	assert.Zero(t, p)
	assert.EqualValues(t, 0, cg.calls.Load())

	got, _ := second.Version(chunk.Terrain, geom.ChunkCoord{})
	assert.Equal(t, want, got)
	st, _ := second.Stats()
	assert.EqualValues(t, 1, st.Loaded)

	res, err := second.Save(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, res.Chunks, "a freshly loaded chunk is clean")
}

func TestResetReloadsButWipeRegenerates(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()
	w, cg := newTestWorld(t, flatGen{}, func(o *Options) { o.Loader = store })

	_, err := w.SetTerrain(ctx, tile(4, 4), data.TerrainWall)
	require.NoError(t, err)
	_, err = w.Save(ctx, store)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cg.calls.Load())

	assert.Equal(t, 1, w.Reset())
	v, err := w.Terrain(ctx, tile(4, 4))
	require.NoError(t, err)
	assert.Equal(t, data.TerrainWall, v, "reset reloads stored layers")
	assert.EqualValues(t, 1, cg.calls.Load())

	dropped, purged, err := w.Wipe(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.EqualValues(t, len(chunk.Kinds), purged)

	v, err = w.Terrain(ctx, tile(4, 4))
	require.NoError(t, err)
	assert.Equal(t, data.TerrainGrass, v)
	assert.EqualValues(t, 2, cg.calls.Load())
}
