package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/tilerealm/worldcore/internal/core/system"
	"github.com/tilerealm/worldcore/internal/geom"
	"github.com/tilerealm/worldcore/internal/world"
)

// PregenSystem keeps chunks generated ahead of observers. At startup it
// grows the generated area around spawn by one ring of chunks per tick until
// radius is reached; after that it only follows the observers. Phase 1
// (Generate).
type PregenSystem struct {
	world    *world.World
	interest *world.Interest
	spawn    geom.ChunkCoord
	radius   int32 // chunks around spawn
	ahead    int32 // chunks around each observer
	ring     int32
	log      *zap.Logger
}

func NewPregenSystem(w *world.World, interest *world.Interest, spawn geom.TileCoord, radius, ahead int32, log *zap.Logger) *PregenSystem {
	c, _ := geom.ToChunk(spawn)
	return &PregenSystem{
		world:    w,
		interest: interest,
		spawn:    c,
		radius:   radius,
		ahead:    ahead,
		log:      log,
	}
}

func (s *PregenSystem) Phase() coresys.Phase { return coresys.PhaseGenerate }

func (s *PregenSystem) Update(ctx context.Context, _ time.Duration) error {
	if s.ring <= s.radius {
		start := time.Now()
		n, err := s.world.Pregenerate(ctx, ringRect(s.spawn, s.ring))
		if err != nil {
			return err
		}
		s.log.Debug("spawn ring generated",
			zap.Int32("ring", s.ring),
			zap.Int("chunks", n),
			zap.Duration("took", time.Since(start)))
		s.ring++
	}
	for _, r := range s.interest.Observed(s.ahead) {
		if _, err := s.world.Pregenerate(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// SpawnReady reports whether every spawn ring has been generated.
func (s *PregenSystem) SpawnReady() bool { return s.ring > s.radius }

// ringRect covers the square of chunks within ring of c.
func ringRect(c geom.ChunkCoord, ring int32) geom.Rect {
	lo := geom.ChunkCoord{X: c.X - ring, Y: c.Y - ring}
	hi := geom.ChunkCoord{X: c.X + ring + 1, Y: c.Y + ring + 1}
	return geom.Rect{Min: lo.Origin(), Max: hi.Origin()}
}
