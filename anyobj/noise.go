package anyobj

import (
	"math/rand/v2"

	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/stat/distuv"
)

// sample draws n noise values, or returns nil if there is
// no noise to add.
func (n NoiseKind) sample(c anyvec.Creator, count int, scale float64,
	src rand.Source) anyvec.Vector {
	var values []float64
	switch n {
	case NoNoise:
		return nil
	case UniformNoise:
		dist := distuv.Uniform{Min: -scale / 2, Max: scale / 2, Src: src}
		values = make([]float64, count)
		for i := range values {
			values[i] = dist.Rand()
		}
	case LogisticNoise:
		unit := distuv.Uniform{Min: 0, Max: 1, Src: src}
		dist := distuv.Logistic{Mu: 0, S: scale}
		values = make([]float64, count)
		for i := range values {
			p := unit.Rand()
			for p == 0 {
				p = unit.Rand()
			}
			values[i] = dist.Quantile(p)
		}
	default:
		panic("unknown noise kind: " + n.String())
	}
	return c.MakeVectorData(c.MakeNumericList(values))
}
