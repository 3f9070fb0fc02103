package gen

import (
	"context"
	"fmt"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/data"
	"github.com/tilerealm/worldcore/internal/geom"
)

const scriptPoolSize = 4

// Script runs a world type's generation routine written in Lua. A Lua VM is
// single-goroutine, so the routine keeps a small pool of VMs, each with the
// script loaded, and a generation borrows one for the duration of a chunk.
//
// Lua API: the script defines generate(chunk) where chunk has fields x, y,
// origin_row, origin_col, size and seed. Globals available to it:
//
//	noise(x, y)               fractal noise in [0,1] for the world seed
//	random(n)                 integer in [0,n) from the worker RNG
//	set_terrain(row, col, v)  absolute tile write (spills outside the chunk)
//	set_biome(row, col, v)
//	set_fluid(row, col, v)
type Script struct {
	name  string
	wt    *data.WorldType
	noise Sampler
	log   *zap.Logger
	vms   chan *scriptVM
}

type scriptVM struct {
	vm  *lua.LState
	req *Request
}

// NewScript loads wt.Script from scriptsDir into a pool of Lua VMs.
func NewScript(scriptsDir string, wt *data.WorldType, seed int64, log *zap.Logger) (*Script, error) {
	s := &Script{
		name:  wt.Name,
		wt:    wt,
		noise: NewSimplex(seed),
		log:   log,
		vms:   make(chan *scriptVM, scriptPoolSize),
	}
	path := filepath.Join(scriptsDir, wt.Script)
	for i := 0; i < scriptPoolSize; i++ {
		sv, err := s.newVM(path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.vms <- sv
	}
	log.Debug("loaded generation script", zap.String("world_type", wt.Name), zap.String("file", path))
	return s, nil
}

func (s *Script) newVM(path string) (*scriptVM, error) {
	sv := &scriptVM{vm: lua.NewState()}
	vm := sv.vm
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("noise", vm.NewFunction(func(L *lua.LState) int {
		v := Fractal(s.noise, s.wt.Noise, float64(L.CheckNumber(1)), float64(L.CheckNumber(2)))
		L.Push(lua.LNumber(v))
		return 1
	}))
	vm.SetGlobal("random", vm.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt(1)
		if n <= 0 {
			L.ArgError(1, "n must be positive")
		}
		L.Push(lua.LNumber(sv.req.Exec.Rand().Intn(n)))
		return 1
	}))
	for name, kind := range map[string]chunk.Kind{
		"set_terrain": chunk.Terrain,
		"set_biome":   chunk.Biome,
		"set_fluid":   chunk.Fluid,
	} {
		vm.SetGlobal(name, vm.NewFunction(func(L *lua.LState) int {
			t := geom.TileCoord{Row: int32(L.CheckInt(1)), Col: int32(L.CheckInt(2))}
			v := L.CheckInt(3)
			if v < 0 || v >= 1<<(8*kind.Width()) {
				L.ArgError(3, fmt.Sprintf("%s value out of range", kind))
			}
			sv.req.Put(kind, t, uint16(v))
			return 0
		}))
	}
	if err := vm.DoFile(path); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if vm.GetGlobal("generate") == lua.LNil {
		vm.Close()
		return nil, fmt.Errorf("load %s: no generate function", path)
	}
	return sv, nil
}

func (s *Script) Name() string { return data.KindScript + ":" + s.name }

func (s *Script) Generate(ctx context.Context, req *Request) error {
	var sv *scriptVM
	select {
	case sv = <-s.vms:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		sv.req = nil
		s.vms <- sv
	}()
	sv.req = req

	vm := sv.vm
	o := req.Origin()
	t := vm.NewTable()
	t.RawSetString("x", lua.LNumber(req.Coord.X))
	t.RawSetString("y", lua.LNumber(req.Coord.Y))
	t.RawSetString("origin_row", lua.LNumber(o.Row))
	t.RawSetString("origin_col", lua.LNumber(o.Col))
	t.RawSetString("size", lua.LNumber(geom.ChunkSize))
	t.RawSetString("seed", lua.LNumber(req.Exec.Seed()))

	if err := vm.CallByParam(lua.P{
		Fn:      vm.GetGlobal("generate"),
		NRet:    0,
		Protect: true,
	}, t); err != nil {
		return fmt.Errorf("lua generate %s: %w", req.Coord, err)
	}
	return nil
}

// Close shuts down every idle VM.
func (s *Script) Close() {
	for {
		select {
		case sv := <-s.vms:
			sv.vm.Close()
		default:
			return
		}
	}
}
