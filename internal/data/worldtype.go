package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Terrain ids shared by the built-in generators.
const (
	TerrainVoid uint16 = iota
	TerrainGrass
	TerrainSand
	TerrainShallows
	TerrainStone
	TerrainMountain
	TerrainCaveFloor
	TerrainRockWall
	TerrainFloor
	TerrainWall
	TerrainDoor
	TerrainAsh
	TerrainObsidian
	TerrainSnow
)

// Biome ids.
const (
	BiomeNone uint8 = iota
	BiomePlains
	BiomeForest
	BiomeDesert
	BiomeOcean
	BiomeTundra
	BiomeCavern
	BiomeAshland
	BiomeSettlement
)

// Generator kinds a world type may name.
const (
	KindOpen       = "open"
	KindAlt        = "alt"
	KindCave       = "cave"
	KindSettlement = "settlement"
	KindScript     = "script"
)

// TerrainInfo describes one terrain id, loaded from world_types.yaml.
type TerrainInfo struct {
	ID       uint16 `yaml:"id"`
	Name     string `yaml:"name"`
	Walkable bool   `yaml:"walkable"`
}

// NoiseParams configures fractal noise for a generator.
type NoiseParams struct {
	Octaves     int     `yaml:"octaves"`
	Frequency   float64 `yaml:"frequency"`
	Persistence float64 `yaml:"persistence"`
	Lacunarity  float64 `yaml:"lacunarity"`
}

// BoundsSpec is an optional tile rectangle limiting a world; Max is exclusive.
type BoundsSpec struct {
	MinRow int32 `yaml:"min_row"`
	MinCol int32 `yaml:"min_col"`
	MaxRow int32 `yaml:"max_row"`
	MaxCol int32 `yaml:"max_col"`
}

// WorldType holds the immutable generation parameters of one kind of world.
type WorldType struct {
	Name          string      `yaml:"name"`
	Kind          string      `yaml:"kind"`
	Script        string      `yaml:"script"`         // Lua file, kind "script" only
	BlockingFluid uint8       `yaml:"blocking_fluid"` // fluid depth at or above which a tile is impassable
	Noise         NoiseParams `yaml:"noise"`
	SeaLevel      float64     `yaml:"sea_level"`
	MountainLevel float64     `yaml:"mountain_level"`
	CaveThreshold float64     `yaml:"cave_threshold"`
	RoomAttempts  int         `yaml:"room_attempts"`
	RoomMin       int         `yaml:"room_min"`
	RoomMax       int         `yaml:"room_max"`
	Bounds        *BoundsSpec `yaml:"bounds"`
}

// Traversable reports whether a tile with the given passability and fluid
// depth can be entered.
func (wt *WorldType) Traversable(pass, fluid uint8) bool {
	return pass != 0 && fluid < wt.BlockingFluid
}

// TerrainTable answers walkability per terrain id.
type TerrainTable struct {
	byID map[uint16]TerrainInfo
}

// Walkable reports whether a terrain id can be stood on. Unknown ids are not.
func (t *TerrainTable) Walkable(id uint16) bool {
	return t.byID[id].Walkable
}

func (t *TerrainTable) Name(id uint16) string {
	if info, ok := t.byID[id]; ok {
		return info.Name
	}
	return fmt.Sprintf("terrain#%d", id)
}

func (t *TerrainTable) Count() int { return len(t.byID) }

// WorldTypeTable provides world types by name.
type WorldTypeTable struct {
	types    map[string]*WorldType
	terrains *TerrainTable
}

type worldTypeFile struct {
	Terrains   []TerrainInfo `yaml:"terrains"`
	WorldTypes []WorldType   `yaml:"world_types"`
}

// LoadWorldTypes loads world types and the terrain table from YAML.
func LoadWorldTypes(path string) (*WorldTypeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world types %s: %w", path, err)
	}
	return ParseWorldTypes(raw)
}

// ParseWorldTypes is LoadWorldTypes on an in-memory document. Missing
// terrains fall back to the built-in table; missing fields take defaults.
func ParseWorldTypes(raw []byte) (*WorldTypeTable, error) {
	var file worldTypeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse world types: %w", err)
	}
	if len(file.Terrains) == 0 {
		file.Terrains = defaultTerrains
	}

	table := &WorldTypeTable{
		types:    make(map[string]*WorldType, len(file.WorldTypes)),
		terrains: &TerrainTable{byID: make(map[uint16]TerrainInfo, len(file.Terrains))},
	}
	for _, info := range file.Terrains {
		table.terrains.byID[info.ID] = info
	}
	for i := range file.WorldTypes {
		wt := file.WorldTypes[i]
		if wt.Name == "" {
			return nil, fmt.Errorf("world type %d: missing name", i)
		}
		if _, dup := table.types[wt.Name]; dup {
			return nil, fmt.Errorf("world type %q: defined twice", wt.Name)
		}
		switch wt.Kind {
		case KindOpen, KindAlt, KindCave, KindSettlement:
		case KindScript:
			if wt.Script == "" {
				return nil, fmt.Errorf("world type %q: kind script needs a script file", wt.Name)
			}
		default:
			return nil, fmt.Errorf("world type %q: unknown kind %q", wt.Name, wt.Kind)
		}
		if b := wt.Bounds; b != nil && (b.MaxRow <= b.MinRow || b.MaxCol <= b.MinCol) {
			return nil, fmt.Errorf("world type %q: empty bounds", wt.Name)
		}
		applyDefaults(&wt)
		table.types[wt.Name] = &wt
	}
	return table, nil
}

// DefaultWorldTypes returns the built-in table used when no file is configured.
func DefaultWorldTypes() *WorldTypeTable {
	table, err := ParseWorldTypes([]byte(defaultWorldTypesYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in world types: %v", err))
	}
	return table
}

// Get returns the world type with the given name, or nil if not found.
func (t *WorldTypeTable) Get(name string) *WorldType {
	return t.types[name]
}

// Count returns the number of world types loaded.
func (t *WorldTypeTable) Count() int {
	return len(t.types)
}

func (t *WorldTypeTable) Terrains() *TerrainTable {
	return t.terrains
}

func applyDefaults(wt *WorldType) {
	if wt.BlockingFluid == 0 {
		wt.BlockingFluid = 3
	}
	if wt.Noise.Octaves <= 0 {
		wt.Noise.Octaves = 4
	}
	if wt.Noise.Frequency <= 0 {
		wt.Noise.Frequency = 0.02
	}
	if wt.Noise.Persistence <= 0 {
		wt.Noise.Persistence = 0.5
	}
	if wt.Noise.Lacunarity <= 0 {
		wt.Noise.Lacunarity = 2.0
	}
	if wt.RoomMin <= 0 {
		wt.RoomMin = 3
	}
	if wt.RoomMax < wt.RoomMin {
		wt.RoomMax = wt.RoomMin + 4
	}
	if wt.RoomAttempts <= 0 {
		wt.RoomAttempts = 6
	}
}

var defaultTerrains = []TerrainInfo{
	{ID: TerrainVoid, Name: "void"},
	{ID: TerrainGrass, Name: "grass", Walkable: true},
	{ID: TerrainSand, Name: "sand", Walkable: true},
	{ID: TerrainShallows, Name: "shallows", Walkable: true},
	{ID: TerrainStone, Name: "stone"},
	{ID: TerrainMountain, Name: "mountain"},
	{ID: TerrainCaveFloor, Name: "cave_floor", Walkable: true},
	{ID: TerrainRockWall, Name: "rock_wall"},
	{ID: TerrainFloor, Name: "floor", Walkable: true},
	{ID: TerrainWall, Name: "wall"},
	{ID: TerrainDoor, Name: "door", Walkable: true},
	{ID: TerrainAsh, Name: "ash", Walkable: true},
	{ID: TerrainObsidian, Name: "obsidian"},
	{ID: TerrainSnow, Name: "snow", Walkable: true},
}

const defaultWorldTypesYAML = `
world_types:
  - name: overworld
    kind: open
    sea_level: 0.32
    mountain_level: 0.78
    noise: {octaves: 5, frequency: 0.012}
  - name: netherrealm
    kind: alt
    sea_level: 0.25
    noise: {octaves: 3, frequency: 0.03}
  - name: caves
    kind: cave
    cave_threshold: 0.55
    noise: {octaves: 3, frequency: 0.05}
  - name: township
    kind: settlement
    room_attempts: 6
    room_min: 3
    room_max: 7
`
