package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recorder struct {
	phase Phase
	name  string
	out   *[]string
	err   error
	panic bool
}

func (r *recorder) Phase() Phase { return r.phase }

func (r *recorder) Update(_ context.Context, _ time.Duration) error {
	*r.out = append(*r.out, r.name)
	if r.panic {
		panic("boom")
	}
	return r.err
}

func TestRunnerOrdersByPhase(t *testing.T) {
	var out []string
	r := NewRunner(zap.NewNop())
	r.Register(&recorder{phase: PhasePersist, name: "save", out: &out})
	r.Register(&recorder{phase: PhaseInput, name: "input", out: &out})
	r.Register(&recorder{phase: PhaseGenerate, name: "gen-a", out: &out})
	r.Register(&recorder{phase: PhaseGenerate, name: "gen-b", out: &out})

	assert.Zero(t, r.Tick(context.Background(), time.Millisecond))
	assert.Equal(t, []string{"input", "gen-a", "gen-b", "save"}, out)
}

func TestRunnerContinuesAfterFailure(t *testing.T) {
	var out []string
	r := NewRunner(zap.NewNop())
	r.Register(&recorder{phase: PhaseInput, name: "err", out: &out, err: errors.New("nope")})
	r.Register(&recorder{phase: PhaseGenerate, name: "panic", out: &out, panic: true})
	r.Register(&recorder{phase: PhasePersist, name: "save", out: &out})

	assert.Equal(t, 2, r.Tick(context.Background(), time.Millisecond))
	assert.Equal(t, []string{"err", "panic", "save"}, out)
}

func TestTickPhase(t *testing.T) {
	var out []string
	r := NewRunner(zap.NewNop())
	r.Register(&recorder{phase: PhaseInput, name: "input", out: &out})
	r.Register(&recorder{phase: PhasePersist, name: "save", out: &out})

	r.TickPhase(context.Background(), PhasePersist, time.Millisecond)
	assert.Equal(t, []string{"save"}, out)
}
