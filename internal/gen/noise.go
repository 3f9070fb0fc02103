package gen

import (
	"math"

	"github.com/ojrac/opensimplex-go"

	"github.com/tilerealm/worldcore/internal/data"
)

// Sampler is a seedable noise source. Implementations return values in
// [-1, 1]; generators sample by absolute tile coordinate so chunk seams line
// up without any shared state.
type Sampler interface {
	Eval2(x, y float64) float64
	Eval3(x, y, z float64) float64
}

// NewSimplex returns an OpenSimplex sampler.
func NewSimplex(seed int64) Sampler {
	return opensimplex.New(seed)
}

// Fractal sums octaves of s at (x, y) and maps the result to [0, 1].
func Fractal(s Sampler, p data.NoiseParams, x, y float64) float64 {
	freq := p.Frequency
	amp := 1.0
	var sum, norm float64
	for o := 0; o < p.Octaves; o++ {
		sum += s.Eval2(x*freq, y*freq) * amp
		norm += amp
		amp *= p.Persistence
		freq *= p.Lacunarity
	}
	if norm == 0 {
		return 0.5
	}
	return clamp01((sum/norm + 1) / 2)
}

// Ridged folds fractal noise around its midpoint: 1 on ridges, 0 in valleys.
func Ridged(s Sampler, p data.NoiseParams, x, y float64) float64 {
	return 1 - math.Abs(2*Fractal(s, p, x, y)-1)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
