// Package anygeom builds differentiable 2D geometric
// transforms from flat parameter vectors.
//
// A transform is parameterized by six numbers,
//
//     (scale_x, scale_y, theta, shear, trans_x, trans_y)
//
// and is represented as a row-major 3x3 matrix in
// homogeneous coordinates whose last row is [0, 0, 1].
package anygeom

import (
	"fmt"
	"math"

	"github.com/badcode-iip/anycaps"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	// NumParams is the number of parameters per transform.
	NumParams = 6

	// MatrixSize is the number of entries in a transform
	// matrix.
	MatrixSize = 9

	scaleFloor      = 1e-2
	nonlinearFactor = 5
)

// A Kind selects the family of transforms.
type Kind int

const (
	// Similarity transforms use a uniform scale (scale_x)
	// and ignore scale_y and shear.
	Similarity Kind = iota

	// Affine transforms use all six parameters.
	Affine
)

// ParseKind parses "similarity" or "affine".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "similarity":
		return Similarity, nil
	case "affine":
		return Affine, nil
	}
	return 0, anycaps.NewConfigError("transform kind", "unknown kind %q", s)
}

// String returns the name accepted by ParseKind.
func (k Kind) String() string {
	switch k {
	case Similarity:
		return "similarity"
	case Affine:
		return "affine"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// A Transform converts parameter vectors into matrices.
type Transform struct {
	Kind Kind

	// Nonlinear squashes the parameters before building the
	// matrix: scales become sigmoid(s)+0.01, translations
	// and shear become tanh(5x), and theta is multiplied by
	// 2*pi.
	// Otherwise scales become |s|+0.01 and everything else
	// is used as-is.
	Nonlinear bool
}

// Matrices converts a packed batch of parameter vectors
// into a packed batch of 3x3 matrices.
// The batch size is inferred from the input length.
func (t Transform) Matrices(params anydiff.Res) anydiff.Res {
	if params.Output().Len()%NumParams != 0 {
		panic(fmt.Sprintf("parameter count %d is not a multiple of %d",
			params.Output().Len(), NumParams))
	}
	n := params.Output().Len() / NumParams
	c := params.Output().Creator()

	cols := anycaps.SplitRows(params, n, 1, 1, 1, 1, 1, 1)
	scaleX, scaleY, theta, shear, transX, transY := cols[0], cols[1], cols[2], cols[3],
		cols[4], cols[5]

	if t.Nonlinear {
		scaleX = anydiff.AddScalar(anydiff.Sigmoid(scaleX), c.MakeNumeric(scaleFloor))
		scaleY = anydiff.AddScalar(anydiff.Sigmoid(scaleY), c.MakeNumeric(scaleFloor))
		factor := c.MakeNumeric(nonlinearFactor)
		transX = anydiff.Tanh(anydiff.Scale(transX, factor))
		transY = anydiff.Tanh(anydiff.Scale(transY, factor))
		shear = anydiff.Tanh(anydiff.Scale(shear, factor))
		theta = anydiff.Scale(theta, c.MakeNumeric(2*math.Pi))
	} else {
		scaleX = anydiff.AddScalar(anydiff.Abs(scaleX), c.MakeNumeric(scaleFloor))
		scaleY = anydiff.AddScalar(anydiff.Abs(scaleY), c.MakeNumeric(scaleFloor))
	}

	cos, sin := anydiff.Cos(theta), anydiff.Sin(theta)
	zeros := anycaps.Constant(c, n, 0)
	ones := anycaps.Constant(c, n, 1)

	var entries []anydiff.Res
	switch t.Kind {
	case Similarity:
		entries = []anydiff.Res{
			anydiff.Mul(scaleX, cos), neg(anydiff.Mul(scaleX, sin)), transX,
			anydiff.Mul(scaleX, sin), anydiff.Mul(scaleX, cos), transY,
			zeros, zeros, ones,
		}
	case Affine:
		shearY := anydiff.Mul(shear, scaleY)
		entries = []anydiff.Res{
			anydiff.Add(anydiff.Mul(scaleX, cos), anydiff.Mul(shearY, sin)),
			anydiff.Add(neg(anydiff.Mul(scaleX, sin)), anydiff.Mul(shearY, cos)),
			transX,
			anydiff.Mul(scaleY, sin), anydiff.Mul(scaleY, cos), transY,
			zeros, zeros, ones,
		}
	default:
		panic(fmt.Sprintf("unknown transform kind: %d", t.Kind))
	}
	return anycaps.ConcatRows(n, entries...)
}

// Compose computes outer*inner for every pair of matrices.
//
// The outer batch may be smaller than the inner batch, in
// which case each outer matrix is applied to a contiguous
// run of inner matrices.
// Applying the result to a point is the same as applying
// inner first and outer second.
func Compose(outer, inner anydiff.Res) anydiff.Res {
	product := anycaps.BroadcastMatMul(false, false,
		matrixBatch(outer), matrixBatch(inner))
	return product.Data
}

// Apply applies each matrix to a run of 2D points.
//
// The points are packed as (x, y) pairs.
// If there are k matrices, the point count must be a
// multiple of k and each matrix transforms the next
// count/k points.
func Apply(matrices, points anydiff.Res) anydiff.Res {
	if points.Output().Len()%2 != 0 {
		panic("points must be packed as (x, y) pairs")
	}
	numMats := matrices.Output().Len() / MatrixSize
	numPoints := points.Output().Len() / 2
	if numMats == 0 || numPoints%numMats != 0 {
		panic(fmt.Sprintf("cannot distribute %d points over %d matrices", numPoints, numMats))
	}
	c := points.Output().Creator()
	homogeneous := anycaps.ConcatRows(numPoints, points, anycaps.Constant(c, numPoints, 1))
	product := anycaps.BroadcastMatMul(false, true, matrixBatch(matrices), &anydiff.MatrixBatch{
		Data: homogeneous,
		Num:  numMats,
		Rows: numPoints / numMats,
		Cols: 3,
	})
	// The product holds one 3xP block per matrix; transpose
	// it back to points and drop the homogeneous coordinate.
	runLen := numPoints / numMats
	table := make([]int, 0, numPoints*2)
	for m := 0; m < numMats; m++ {
		for p := 0; p < runLen; p++ {
			for row := 0; row < 2; row++ {
				table = append(table, m*3*runLen+row*runLen+p)
			}
		}
	}
	return anycaps.Gather(product.Data, table)
}

// Trim drops the constant last row of every matrix,
// producing six values per transform:
//
//     [a, b, tx, c, d, ty]
func Trim(matrices anydiff.Res) anydiff.Res {
	if matrices.Output().Len()%MatrixSize != 0 {
		panic(fmt.Sprintf("length %d is not a multiple of %d", matrices.Output().Len(),
			MatrixSize))
	}
	n := matrices.Output().Len() / MatrixSize
	return anycaps.SplitRows(matrices, n, NumParams, MatrixSize-NumParams)[0]
}

// Untrim is the inverse of Trim.
func Untrim(trimmed anydiff.Res) anydiff.Res {
	if trimmed.Output().Len()%NumParams != 0 {
		panic(fmt.Sprintf("length %d is not a multiple of %d", trimmed.Output().Len(),
			NumParams))
	}
	n := trimmed.Output().Len() / NumParams
	c := trimmed.Output().Creator()
	last := anycaps.Tile(anydiff.NewConst(anyvec.Make(c, []float64{0, 0, 1})), n)
	return anycaps.ConcatRows(n, trimmed, last)
}

func matrixBatch(m anydiff.Res) *anydiff.MatrixBatch {
	if m.Output().Len()%MatrixSize != 0 {
		panic(fmt.Sprintf("length %d is not a multiple of %d", m.Output().Len(), MatrixSize))
	}
	return &anydiff.MatrixBatch{
		Data: m,
		Num:  m.Output().Len() / MatrixSize,
		Rows: 3,
		Cols: 3,
	}
}

func neg(r anydiff.Res) anydiff.Res {
	return anydiff.Scale(r, r.Output().Creator().MakeNumeric(-1))
}
