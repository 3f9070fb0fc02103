package system

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Runner executes systems in phase order each tick. Registration order is
// kept within a phase.
type Runner struct {
	systems []System
	sorted  bool
	log     *zap.Logger
}

func NewRunner(log *zap.Logger) *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
		log:     log,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs every system once. A failing system is logged and does not stop
// the systems after it; Tick returns how many failed.
func (r *Runner) Tick(ctx context.Context, dt time.Duration) int {
	r.ensureSorted()
	failed := 0
	for _, s := range r.systems {
		if err := r.run(ctx, s, dt); err != nil {
			failed++
			r.log.Error("system failed",
				zap.Stringer("phase", s.Phase()),
				zap.String("system", fmt.Sprintf("%T", s)),
				zap.Error(err))
		}
	}
	return failed
}

// TickPhase runs only the systems of one phase.
func (r *Runner) TickPhase(ctx context.Context, phase Phase, dt time.Duration) int {
	r.ensureSorted()
	failed := 0
	for _, s := range r.systems {
		if s.Phase() != phase {
			continue
		}
		if err := r.run(ctx, s, dt); err != nil {
			failed++
			r.log.Error("system failed", zap.Stringer("phase", phase), zap.Error(err))
		}
	}
	return failed
}

func (r *Runner) run(ctx context.Context, s System, dt time.Duration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.Update(ctx, dt)
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
