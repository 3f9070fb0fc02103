package gen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
)

func TestRequestPutRoutesOutsideWrites(t *testing.T) {
	var terrain [geom.ChunkArea]uint16
	var biome, fluid [geom.ChunkArea]uint8
	req := &Request{Coord: geom.ChunkCoord{X: 1, Y: 1}, Terrain: &terrain, Biome: &biome, Fluid: &fluid}

	inside := geom.TileCoord{Row: 17, Col: 18}
	req.Put(chunk.Terrain, inside, 9)
	req.Put(chunk.Fluid, inside, 2)
	_, l := geom.ToChunk(inside)
	assert.EqualValues(t, 9, terrain[l.Index()])
	assert.EqualValues(t, 2, fluid[l.Index()])

	outside := geom.TileCoord{Row: 15, Col: 18}
	req.Put(chunk.Biome, outside, 4)
	assert.Equal(t, []Spill{{Kind: chunk.Biome, Tile: outside, Value: 4}}, req.Spills())

	assert.Panics(t, func() { req.Put(chunk.Passability, inside, 1) })
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry(t.TempDir(), zap.NewNop())
	_, err := r.New(&data.WorldType{Name: "odd", Kind: "floating"}, 1)
	assert.ErrorIs(t, err, ErrUnknownWorldType)
}

func TestBuiltinsAreDeterministic(t *testing.T) {
	table := data.DefaultWorldTypes()
	r := NewRegistry(t.TempDir(), zap.NewNop())

	for _, name := range []string{"overworld", "netherrealm", "caves", "township"} {
		t.Run(name, func(t *testing.T) {
			wt := table.Get(name)
			require.NotNil(t, wt)

			snapshot := func() []uint16 {
				g, err := r.New(wt, 42)
				require.NoError(t, err)
				s, layers := newTestScheduler(t, g, func(o *Options) { o.Type = wt })
				c := geom.ChunkCoord{X: 2, Y: -3}
				require.NoError(t, s.Ensure(context.Background(), c))
				ch, ok := layers.Terrain.Get(c)
				require.True(t, ok)
				values, _ := ch.Snapshot(nil)
				return values
			}
			assert.Equal(t, snapshot(), snapshot())
		})
	}
}

func TestChunkSeedDependsOnCoordinate(t *testing.T) {
	a := ChunkSeed(42, geom.ChunkCoord{X: 0, Y: 1})
	assert.Equal(t, a, ChunkSeed(42, geom.ChunkCoord{X: 0, Y: 1}))
	assert.NotEqual(t, a, ChunkSeed(42, geom.ChunkCoord{X: 1, Y: 0}))
	assert.NotEqual(t, a, ChunkSeed(43, geom.ChunkCoord{X: 0, Y: 1}))
}

func TestFractalRange(t *testing.T) {
	s := NewSimplex(9)
	p := data.NoiseParams{Octaves: 4, Frequency: 0.05, Persistence: 0.5, Lacunarity: 2}
	for x := -20; x < 20; x += 3 {
		for y := -20; y < 20; y += 3 {
			v := Fractal(s, p, float64(x), float64(y))
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

const islandScript = `
function generate(chunk)
  for r = 0, chunk.size - 1 do
    for c = 0, chunk.size - 1 do
      local row, col = chunk.origin_row + r, chunk.origin_col + c
      if noise(col, row) >= 0 then
        set_terrain(row, col, 2)
      end
      set_biome(row, col, 3)
    end
  end
  set_terrain(chunk.origin_row, chunk.origin_col + chunk.size, 10)
end
`

func TestScriptGenerator(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "island.lua"), []byte(islandScript), 0o644))
	wt := &data.WorldType{Name: "isles", Kind: data.KindScript, Script: "island.lua", BlockingFluid: 3,
		Noise: data.NoiseParams{Octaves: 2, Frequency: 0.1, Persistence: 0.5, Lacunarity: 2}}

	r := NewRegistry(dir, zap.NewNop())
	g, err := r.New(wt, 5)
	require.NoError(t, err)
	defer g.(*Script).Close()

	s, layers := newTestScheduler(t, g, func(o *Options) { o.Type = wt })
	require.NoError(t, s.Ensure(context.Background(), geom.ChunkCoord{}))

	set, ok := layers.Get(geom.ChunkCoord{})
	require.True(t, ok)
	assert.Equal(t, data.TerrainSand, set.Terrain.At(nil, geom.Local{Row: 3, Col: 3}))
	assert.Equal(t, data.BiomeDesert, set.Biome.At(nil, geom.Local{Row: 3, Col: 3}))
	assert.Equal(t, 1, s.Pending())
}

func TestScriptMissingGenerate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.lua"), []byte("x = 1\n"), 0o644))
	wt := &data.WorldType{Name: "empty", Kind: data.KindScript, Script: "empty.lua"}
	_, err := NewScript(dir, wt, 1, zap.NewNop())
	assert.Error(t, err)
}

func TestScriptRejectsOutOfRangeValues(t *testing.T) {
	for name, body := range map[string]string{
		"fluid too deep":    "set_fluid(chunk.origin_row, chunk.origin_col, 300)",
		"negative terrain":  "set_terrain(chunk.origin_row, chunk.origin_col, -1)",
		"terrain too large": "set_terrain(chunk.origin_row, chunk.origin_col, 65536)",
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			src := "function generate(chunk)\n  " + body + "\nend\n"
			require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lua"), []byte(src), 0o644))
			wt := &data.WorldType{Name: "bad", Kind: data.KindScript, Script: "bad.lua", BlockingFluid: 3}
			g, err := NewScript(dir, wt, 1, zap.NewNop())
			require.NoError(t, err)
			defer g.Close()

			s, layers := newTestScheduler(t, g, func(o *Options) { o.Type = wt })
			assert.Error(t, s.Ensure(context.Background(), geom.ChunkCoord{}))
			assert.Equal(t, 0, layers.Terrain.Len())
		})
	}
}
