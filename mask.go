package anycaps

import (
	"math/rand/v2"

	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/stat/distuv"
)

// BernoulliMask creates a vector of n independent samples
// which are 1 with probability keepProb and 0 otherwise.
//
// If keepProb is 1, the mask is all ones and src is never
// consulted.
// A nil src draws from the global generator.
func BernoulliMask(c anyvec.Creator, n int, keepProb float64, src rand.Source) anyvec.Vector {
	mask := c.MakeVector(n)
	if keepProb >= 1 {
		mask.AddScalar(c.MakeNumeric(1))
		return mask
	}
	dist := distuv.Bernoulli{P: keepProb, Src: src}
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = dist.Rand()
	}
	mask.SetData(c.MakeNumericList(samples))
	return mask
}
