// Package anyset implements permutation-invariant set
// encoders built from multi-head attention.
//
// The architecture follows the Set Transformer
// (https://arxiv.org/abs/1810.00825): point-wise input
// projection, a stack of self-attention blocks (SAB) or
// induced self-attention blocks (ISAB), an output
// projection, and pooling by multi-head attention (PMA).
package anyset

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An Encoder maps a batch of point sets to a fixed number
// of feature vectors per set.
//
// The points are packed as [batch, numPoints, pointDim].
// The presence vector, if non-nil, has one 0/1 entry per
// point and excludes absent points from attention.
// The result is packed as [batch, numOutputs, featureDim].
type Encoder interface {
	Encode(points anydiff.Res, batch int, presence anyvec.Vector) anydiff.Res
}

// A Block transforms a batch of sets of d-dimensional
// vectors into sets of the same size.
type Block interface {
	Apply(x anydiff.Res, batch int, presence anyvec.Vector) anydiff.Res
}

func setSize(in anydiff.Res, batch, dim int) int {
	if in.Output().Len()%(batch*dim) != 0 {
		panic(fmt.Sprintf("length %d is not a multiple of batch*dim = %d",
			in.Output().Len(), batch*dim))
	}
	return in.Output().Len() / (batch * dim)
}
