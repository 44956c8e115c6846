package anyobj

import (
	"math"

	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// DummyLogit is the fixed mixing logit of the dummy
// component.
// The dummy's log-density uses the same constant, so a
// point that no capsule explains still has a finite
// likelihood.
var DummyLogit = -2 * math.Ln10

// A Likelihood treats every vote as a Gaussian component
// of a mixture over observed points.
//
// With K = O*N votes, there are K+1 components: the votes
// in [B, O, N] order followed by a dummy component.
// Every point is scored against every component.
type Likelihood struct {
	NumCapsules int
	NumVotes    int

	// Votes is [B, O, N, 6].
	Votes anydiff.Res

	// Scales is [B, O, N].
	// Each scale is the standard deviation along all six
	// axes of its vote.
	Scales anydiff.Res

	// Presence is [B, O, N].
	Presence anydiff.Res

	// DummyVote is the [6] vote of the dummy component,
	// shared across the batch.
	DummyVote anydiff.Res
}

// LikelihoodResult stores the outputs of a Likelihood.
// K+1 denotes the components including the dummy, which
// always comes last.
type LikelihoodResult struct {
	// LogProb is the scalar mean over the batch of the
	// summed per-point mixture log-probabilities.
	LogProb anydiff.Res

	MixingLogit   anydiff.Res // [B, K+1]
	MixingLogProb anydiff.Res // [B, K+1]

	// PosteriorMixingProb is [B, M, K+1].
	PosteriorMixingProb anydiff.Res

	// Winner is [B, M, 6], holding the vote of the real
	// component with the highest posterior logit.
	Winner         anydiff.Res
	WinnerPresence anydiff.Res // [B, M]

	// SoftWinner is [B, M, 6], the posterior-weighted mean
	// of all votes including the dummy's.
	SoftWinner         anydiff.Res
	SoftWinnerPresence anydiff.Res // [B, M]

	// WinnerIndex is [B, M], a flat vote index in [0, K).
	WinnerIndex []int

	// IsFromCapsule is [B, M], the capsule of the winner.
	IsFromCapsule []int

	// DummyWins is [B, M].
	// An entry is true if the dummy component has the
	// highest posterior logit for that point, in which case
	// the point is unexplained and the real winner above is
	// only the best of the losing votes.
	DummyWins []bool

	// VotePresence is [B, M, K].
	// An entry is true if that vote's mixing logit beats
	// the dummy's, meaning the vote may claim the point.
	VotePresence []bool
}

// Evaluate computes the mixture outputs for a batch of
// [B, M, 6] points.
//
// The presence vector is an optional [B, M] mask.
// Masked points contribute nothing to LogProb.
func (l *Likelihood) Evaluate(points anydiff.Res, presence anyvec.Vector,
	batch int) (*LikelihoodResult, error) {
	numPoints, err := l.checkShapes(points, presence, batch)
	if err != nil {
		return nil, err
	}
	const dim = anygeom.NumParams
	c := points.Output().Creator()
	numComps := l.NumCapsules * l.NumVotes

	realLogit := anycaps.SafeLog(l.Presence)
	mixingLogit := anycaps.ConcatRows(batch, realLogit, anycaps.Constant(c, batch, DummyLogit))
	mixingLogProb := anydiff.LogSoftmax(mixingLogit, numComps+1)

	realPosterior := anydiff.Add(
		anycaps.Gather(realLogit, pointBroadcast(batch, numPoints, numComps, 1)),
		l.logDensity(points, batch, numPoints),
	)
	dummyPosterior := anydiff.AddScalar(
		anycaps.Gather(mixingLogit, dummyBroadcast(batch, numPoints, numComps)),
		c.MakeNumeric(DummyLogit),
	)
	posteriorLogit := anycaps.ConcatRows(batch*numPoints, realPosterior, dummyPosterior)

	perPoint := anycaps.LogSumExp(posteriorLogit, numComps+1)
	if presence != nil {
		perPoint = anydiff.Mul(perPoint, anydiff.NewConst(presence))
	}
	logProb := anydiff.Scale(anydiff.Sum(perPoint), c.MakeNumeric(1/float64(batch)))

	posteriorProb := anydiff.Exp(anydiff.LogSoftmax(posteriorLogit, numComps+1))

	winners := anycaps.ArgMaxChunks(realPosterior.Output(), numComps)
	voteTable := make([]int, 0, len(winners)*dim)
	presTable := make([]int, len(winners))
	fromCapsule := make([]int, len(winners))
	for i, w := range winners {
		b := i / numPoints
		for j := 0; j < dim; j++ {
			voteTable = append(voteTable, (b*numComps+w)*dim+j)
		}
		presTable[i] = b*numComps + w
		fromCapsule[i] = w / l.NumVotes
	}

	dummyWins := make([]bool, len(winners))
	for i, w := range anycaps.ArgMaxChunks(posteriorLogit.Output(), numComps+1) {
		dummyWins[i] = w == numComps
	}

	allVotes := anycaps.ConcatRows(batch, l.Votes, anycaps.Tile(l.DummyVote, batch))
	allPresence := anycaps.ConcatRows(batch, l.Presence, anycaps.Constant(c, batch, 0))
	posteriorMat := &anydiff.MatrixBatch{
		Data: posteriorProb,
		Num:  batch,
		Rows: numPoints,
		Cols: numComps + 1,
	}
	softWinner := anydiff.BatchedMatMul(false, false, posteriorMat, &anydiff.MatrixBatch{
		Data: allVotes,
		Num:  batch,
		Rows: numComps + 1,
		Cols: dim,
	})
	softPresence := anydiff.BatchedMatMul(false, false, posteriorMat, &anydiff.MatrixBatch{
		Data: allPresence,
		Num:  batch,
		Rows: numComps + 1,
		Cols: 1,
	})

	return &LikelihoodResult{
		LogProb:             logProb,
		MixingLogit:         mixingLogit,
		MixingLogProb:       mixingLogProb,
		PosteriorMixingProb: posteriorProb,
		Winner:              anycaps.Gather(l.Votes, voteTable),
		WinnerPresence:      anycaps.Gather(l.Presence, presTable),
		SoftWinner:          softWinner.Data,
		SoftWinnerPresence:  softPresence.Data,
		WinnerIndex:         winners,
		IsFromCapsule:       fromCapsule,
		DummyWins:           dummyWins,
		VotePresence:        claims(mixingLogit.Output(), batch, numPoints, numComps),
	}, nil
}

// logDensity computes the [B, M, K] Gaussian
// log-densities of every point under every vote.
func (l *Likelihood) logDensity(points anydiff.Res, batch, numPoints int) anydiff.Res {
	const dim = anygeom.NumParams
	c := points.Output().Creator()
	numComps := l.NumCapsules * l.NumVotes

	pointTable := make([]int, 0, batch*numPoints*numComps*dim)
	voteTable := make([]int, 0, batch*numPoints*numComps*dim)
	for b := 0; b < batch; b++ {
		for m := 0; m < numPoints; m++ {
			for k := 0; k < numComps; k++ {
				for j := 0; j < dim; j++ {
					pointTable = append(pointTable, (b*numPoints+m)*dim+j)
					voteTable = append(voteTable, (b*numComps+k)*dim+j)
				}
			}
		}
	}
	scaleTable := pointBroadcast(batch, numPoints, numComps, dim)

	diff := anydiff.Sub(anycaps.Gather(points, pointTable), anycaps.Gather(l.Votes, voteTable))
	z := anydiff.Div(diff, anycaps.Gather(l.Scales, scaleTable))
	sqNorm := anycaps.SumChunks(anydiff.Square(z), dim)

	logScale := anycaps.Gather(anycaps.SafeLog(l.Scales),
		pointBroadcast(batch, numPoints, numComps, 1))
	res := anydiff.Add(
		anydiff.Scale(sqNorm, c.MakeNumeric(-0.5)),
		anydiff.Scale(logScale, c.MakeNumeric(-dim)),
	)
	return anydiff.AddScalar(res, c.MakeNumeric(-0.5*dim*math.Log(2*math.Pi)))
}

func (l *Likelihood) checkShapes(points anydiff.Res, presence anyvec.Vector,
	batch int) (numPoints int, err error) {
	if batch <= 0 {
		return 0, anycaps.CheckShape("batch", batch, 1)
	}
	for _, t := range []struct {
		name  string
		res   anydiff.Res
		shape []int
	}{
		{"votes", l.Votes, []int{batch, l.NumCapsules, l.NumVotes, anygeom.NumParams}},
		{"scales", l.Scales, []int{batch, l.NumCapsules, l.NumVotes}},
		{"vote presence", l.Presence, []int{batch, l.NumCapsules, l.NumVotes}},
		{"dummy vote", l.DummyVote, []int{anygeom.NumParams}},
	} {
		if err := anycaps.CheckShape(t.name, t.res.Output().Len(), t.shape...); err != nil {
			return 0, err
		}
	}
	return checkPoints(points, presence, batch)
}

// checkPoints validates [B, M, 6] points and an optional
// [B, M] presence mask, returning M.
func checkPoints(points anydiff.Res, presence anyvec.Vector, batch int) (int, error) {
	const dim = anygeom.NumParams
	numPoints := points.Output().Len() / (batch * dim)
	if numPoints == 0 {
		numPoints = 1
	}
	err := anycaps.CheckShape("points", points.Output().Len(), batch, numPoints, dim)
	if err != nil {
		return 0, err
	}
	if presence != nil {
		err := anycaps.CheckShape("point presence", presence.Len(), batch, numPoints)
		if err != nil {
			return 0, err
		}
	}
	return numPoints, nil
}

// pointBroadcast maps [B, M, K, size] indices to the
// [B, K] entry of the same example and component.
func pointBroadcast(batch, numPoints, numComps, size int) []int {
	table := make([]int, 0, batch*numPoints*numComps*size)
	for b := 0; b < batch; b++ {
		for m := 0; m < numPoints; m++ {
			for k := 0; k < numComps; k++ {
				for j := 0; j < size; j++ {
					table = append(table, b*numComps+k)
				}
			}
		}
	}
	return table
}

// dummyBroadcast maps [B, M] indices to the dummy entry
// of a [B, K+1] tensor.
func dummyBroadcast(batch, numPoints, numComps int) []int {
	table := make([]int, 0, batch*numPoints)
	for b := 0; b < batch; b++ {
		for m := 0; m < numPoints; m++ {
			table = append(table, b*(numComps+1)+numComps)
		}
	}
	return table
}

func claims(mixingLogit anyvec.Vector, batch, numPoints, numComps int) []bool {
	logits := anycaps.Floats(mixingLogit)
	res := make([]bool, 0, batch*numPoints*numComps)
	for b := 0; b < batch; b++ {
		row := logits[b*(numComps+1) : (b+1)*(numComps+1)]
		for m := 0; m < numPoints; m++ {
			for k := 0; k < numComps; k++ {
				res = append(res, row[k] > row[numComps])
			}
		}
	}
	return res
}
