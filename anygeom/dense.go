package anygeom

import (
	"fmt"

	"github.com/badcode-iip/anycaps"
	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/mat"
)

// Dense unpacks a batch of 3x3 matrices for callers that
// need ordinary linear algebra rather than gradients.
func Dense(matrices anyvec.Vector) []*mat.Dense {
	if matrices.Len()%MatrixSize != 0 {
		panic(fmt.Sprintf("length %d is not a multiple of %d", matrices.Len(), MatrixSize))
	}
	data := anycaps.Floats(matrices)
	res := make([]*mat.Dense, len(data)/MatrixSize)
	for i := range res {
		entries := append([]float64{}, data[i*MatrixSize:(i+1)*MatrixSize]...)
		res[i] = mat.NewDense(3, 3, entries)
	}
	return res
}

// Pack is the inverse of Dense.
func Pack(c anyvec.Creator, matrices []*mat.Dense) anyvec.Vector {
	data := make([]float64, 0, len(matrices)*MatrixSize)
	for i, m := range matrices {
		if r, c := m.Dims(); r != 3 || c != 3 {
			panic(fmt.Sprintf("matrix %d is %dx%d, not 3x3", i, r, c))
		}
		for row := 0; row < 3; row++ {
			data = append(data, m.RawRowView(row)...)
		}
	}
	return anyvec.Make(c, data)
}
