package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	// SafeLogEpsilon is the smallest input SafeLog treats
	// as non-zero.
	SafeLogEpsilon = 1e-16

	// SafeLogFloor is the value SafeLog produces for inputs
	// below SafeLogEpsilon.
	SafeLogFloor = -1e8
)

// Floats copies a vector into a []float64.
// It is meant for reporting and for host-side decisions
// like winner indices, not for the forward pass.
func Floats(v anyvec.Vector) []float64 {
	return v.Creator().Float64Slice(v.Data())
}

// Constant creates a constant of length n filled with val.
func Constant(c anyvec.Creator, n int, val float64) *anydiff.Const {
	v := c.MakeVector(n)
	if val != 0 {
		v.AddScalar(c.MakeNumeric(val))
	}
	return anydiff.NewConst(v)
}

// Gather produces a vector whose i-th component is
// in[table[i]].
//
// Indices may repeat, in which case gradients are summed.
// Gather is how reshapes, transposes and broadcasts are
// expressed on flat vectors.
func Gather(in anydiff.Res, table []int) anydiff.Res {
	inLen := in.Output().Len()
	for _, idx := range table {
		if idx < 0 || idx >= inLen {
			panic(fmt.Sprintf("gather index %d out of range [0, %d)", idx, inLen))
		}
	}
	return anydiff.Map(in.Output().Creator().MakeMapper(inLen, table), in)
}

type safeLogRes struct {
	In     anydiff.Res
	Kept   anyvec.Vector
	Safe   anyvec.Vector
	OutVec anyvec.Vector
}

// SafeLog computes the natural log of every component.
// Components below SafeLogEpsilon map to SafeLogFloor
// and receive no gradient, so the output is always
// finite.
func SafeLog(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()

	dropped := in.Output().Copy()
	anyvec.LessThan(dropped, c.MakeNumeric(SafeLogEpsilon))
	kept := dropped.Copy()
	anyvec.Complement(kept)

	// Dropped components are replaced by 1 so that the log
	// is finite, then by the floor.
	safe := in.Output().Copy()
	safe.Mul(kept)
	safe.Add(dropped)

	out := safe.Copy()
	anyvec.Log(out)
	dropped.Scale(c.MakeNumeric(SafeLogFloor))
	out.Add(dropped)

	return &safeLogRes{In: in, Kept: kept, Safe: safe, OutVec: out}
}

func (s *safeLogRes) Output() anyvec.Vector {
	return s.OutVec
}

func (s *safeLogRes) Vars() anydiff.VarSet {
	return s.In.Vars()
}

func (s *safeLogRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(s.In.Vars()) {
		return
	}
	u.Mul(s.Kept)
	u.Div(s.Safe)
	s.In.Propagate(u, g)
}

type logSumExpRes struct {
	In     anydiff.Res
	Spread anyvec.Mapper
	OutVec anyvec.Vector
}

// LogSumExp computes log(sum(exp(x))) for every chunk of
// chunkSize consecutive components.
// Inputs should be finite; use SafeLog to produce them.
func LogSumExp(in anydiff.Res, chunkSize int) anydiff.Res {
	inLen := in.Output().Len()
	if chunkSize <= 0 || inLen%chunkSize != 0 {
		panic(fmt.Sprintf("chunk size %d does not divide input length %d",
			chunkSize, inLen))
	}
	table := make([]int, inLen)
	for i := range table {
		table[i] = i / chunkSize
	}
	return &logSumExpRes{
		In:     in,
		Spread: in.Output().Creator().MakeMapper(inLen/chunkSize, table),
		OutVec: anyvec.AddLogs(in.Output(), chunkSize),
	}
}

func (l *logSumExpRes) Output() anyvec.Vector {
	return l.OutVec
}

func (l *logSumExpRes) Vars() anydiff.VarSet {
	return l.In.Vars()
}

func (l *logSumExpRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(l.In.Vars()) {
		return
	}
	c := u.Creator()
	n := l.In.Output().Len()

	sums := c.MakeVector(n)
	l.Spread.Map(l.OutVec, sums)
	down := l.In.Output().Copy()
	down.Sub(sums)
	anyvec.Exp(down)

	upstream := c.MakeVector(n)
	l.Spread.Map(u, upstream)
	down.Mul(upstream)
	l.In.Propagate(down, g)
}

// Softplus computes log(1+exp(x)) for every component.
func Softplus(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	minusOne := c.MakeNumeric(-1)
	return anydiff.Scale(anydiff.LogSigmoid(anydiff.Scale(in, minusOne)), minusOne)
}

// ArgMaxChunks finds the index of the largest component
// within every chunk of chunkSize components.
// Ties resolve to the first maximum.
func ArgMaxChunks(v anyvec.Vector, chunkSize int) []int {
	if chunkSize <= 0 || v.Len()%chunkSize != 0 {
		panic(fmt.Sprintf("chunk size %d does not divide input length %d",
			chunkSize, v.Len()))
	}
	res := make([]int, v.Len()/chunkSize)
	for i := range res {
		res[i] = anyvec.MaxIndex(v.Slice(i*chunkSize, (i+1)*chunkSize))
	}
	return res
}

// MaxChunks computes the maximum of every chunk of
// chunkSize components.
// The gradient flows to the maximal component.
func MaxChunks(in anydiff.Res, chunkSize int) anydiff.Res {
	if chunkSize <= 0 || in.Output().Len()%chunkSize != 0 {
		panic(fmt.Sprintf("chunk size %d does not divide input length %d",
			chunkSize, in.Output().Len()))
	}
	return anydiff.Map(anyvec.MapMax(in.Output(), chunkSize), in)
}

// Mean computes the mean of all the components of in.
func Mean(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Scale(anydiff.Sum(in), c.MakeNumeric(1/float64(in.Output().Len())))
}

// SumChunks sums every chunk of chunkSize consecutive
// components.
func SumChunks(in anydiff.Res, chunkSize int) anydiff.Res {
	if chunkSize <= 0 || in.Output().Len()%chunkSize != 0 {
		panic(fmt.Sprintf("chunk size %d does not divide input length %d",
			chunkSize, in.Output().Len()))
	}
	return anydiff.SumCols(&anydiff.Matrix{
		Data: in,
		Rows: in.Output().Len() / chunkSize,
		Cols: chunkSize,
	})
}

// RepeatChunks repeats every chunk of chunkSize
// components n times in place, so that [a, b] with a
// chunk size of 1 and n=2 becomes [a, a, b, b].
func RepeatChunks(in anydiff.Res, chunkSize, n int) anydiff.Res {
	if chunkSize <= 0 || in.Output().Len()%chunkSize != 0 {
		panic(fmt.Sprintf("chunk size %d does not divide input length %d",
			chunkSize, in.Output().Len()))
	}
	numChunks := in.Output().Len() / chunkSize
	table := make([]int, 0, numChunks*n*chunkSize)
	for i := 0; i < numChunks; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < chunkSize; k++ {
				table = append(table, i*chunkSize+k)
			}
		}
	}
	return Gather(in, table)
}

// Tile repeats the entire input n times.
func Tile(in anydiff.Res, n int) anydiff.Res {
	size := in.Output().Len()
	table := make([]int, size*n)
	for i := range table {
		table[i] = i % size
	}
	return Gather(in, table)
}
