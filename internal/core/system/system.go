package system

import (
	"context"
	"time"
)

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput    Phase = iota // 0: observer moves, external edits
	PhaseGenerate              // 1: pregenerate around observers
	PhaseSimulate              // 2: sweeps over resident chunks
	PhasePersist               // 3: autosave
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseGenerate:
		return "generate"
	case PhaseSimulate:
		return "simulate"
	case PhasePersist:
		return "persist"
	}
	return "unknown"
}

// System is one unit of per-tick work.
type System interface {
	Phase() Phase
	Update(ctx context.Context, dt time.Duration) error
}
