package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/tilerealm/worldcore/internal/core/system"
	"github.com/tilerealm/worldcore/internal/world"
)

// AutosaveSystem periodically writes the world's changed chunk layers.
// Phase 3 (Persist).
type AutosaveSystem struct {
	world     *world.World
	saver     world.Saver
	log       *zap.Logger
	tickCount int
	interval  int // save every N ticks
}

func NewAutosaveSystem(w *world.World, saver world.Saver, log *zap.Logger, intervalTicks int) *AutosaveSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &AutosaveSystem{
		world:    w,
		saver:    saver,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *AutosaveSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *AutosaveSystem) Update(ctx context.Context, _ time.Duration) error {
	s.tickCount++
	if s.tickCount < s.interval {
		return nil
	}
	s.tickCount = 0
	return s.Flush(ctx)
}

// Flush saves immediately. Called on shutdown so no change is lost.
func (s *AutosaveSystem) Flush(ctx context.Context) error {
	start := time.Now()
	res, err := s.world.Save(ctx, s.saver)
	if err != nil {
		s.log.Error("autosave failed", zap.Int("chunks_saved", res.Chunks), zap.Error(err))
		return err
	}
	if res.Chunks > 0 {
		s.log.Info("autosave",
			zap.Int("chunks", res.Chunks),
			zap.Int("layers", res.Frames),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}
