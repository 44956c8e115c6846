// Package anysparse implements sparsity regularizers for
// capsule presence probabilities.
//
// Every Loss consumes a [batch, numCapsules] presence
// tensor and produces a within-example term and a
// between-example term, both scalars meant to be
// minimized.
package anysparse

import (
	"github.com/badcode-iip/anycaps"
	"github.com/unixpickle/anydiff"
)

const normalizeEpsilon = 1e-8

// A Loss computes sparsity terms from capsule presences.
type Loss interface {
	Loss(capsPresence anydiff.Res, batch int) (within, between anydiff.Res)
}

// ByName creates the Loss called "l2", "entropy" or "kl".
// The class count is only used by "l2".
func ByName(name string, numClasses int) (Loss, error) {
	switch name {
	case "l2":
		if numClasses <= 0 {
			return nil, anycaps.NewConfigError("numClasses", "must be positive (got %d)",
				numClasses)
		}
		return &L2{NumClasses: numClasses}, nil
	case "entropy":
		return &Entropy{K: 1}, nil
	case "kl":
		return KL{}, nil
	}
	return nil, anycaps.NewConfigError("sparsity loss", "unknown loss %q", name)
}

// L2 pulls the number of active capsules per example
// towards numCapsules/NumClasses, and the total activity
// of every capsule across the batch towards
// batch/NumClasses.
type L2 struct {
	NumClasses int

	// WithinConstant, if non-nil, overrides the target
	// number of active capsules per example.
	WithinConstant *float64
}

// Loss computes the mean squared deviations from the
// targets.
func (l *L2) Loss(capsPresence anydiff.Res, batch int) (within, between anydiff.Res) {
	numCaps := numCapsules(capsPresence, batch)
	c := capsPresence.Output().Creator()

	withinConst := float64(numCaps) / float64(l.NumClasses)
	if l.WithinConstant != nil {
		withinConst = *l.WithinConstant
	}
	betweenConst := float64(batch) / float64(l.NumClasses)

	rowSums := anycaps.SumChunks(capsPresence, numCaps)
	within = anycaps.Mean(anydiff.Square(anydiff.AddScalar(rowSums,
		c.MakeNumeric(-withinConst))))
	colSums := columnSums(capsPresence, batch, numCaps)
	between = anycaps.Mean(anydiff.Square(anydiff.AddScalar(colSums,
		c.MakeNumeric(-betweenConst))))
	return
}

// Entropy minimizes the entropy of each example's
// normalized capsule activity and maximizes the entropy of
// the batch's normalized capsule activity.
//
// K scales the predicted distribution inside the cross
// entropy; a K of 1 gives the plain entropy.
type Entropy struct {
	K float64
}

// Loss computes the entropy terms.
// The between-example term is negated, since the
// between-example entropy should increase.
func (e *Entropy) Loss(capsPresence anydiff.Res, batch int) (within, between anydiff.Res) {
	numCaps := numCapsules(capsPresence, batch)
	c := capsPresence.Output().Creator()

	withinProb := normalize(capsPresence, numCaps)
	within = anydiff.Pool(withinProb, func(p anydiff.Res) anydiff.Res {
		return crossEntropy(p, anydiff.Scale(p, c.MakeNumeric(e.K)), batch)
	})

	total := columnSums(capsPresence, batch, numCaps)
	betweenProb := normalize(total, numCaps)
	between = anydiff.Pool(betweenProb, func(p anydiff.Res) anydiff.Res {
		return crossEntropy(p, anydiff.Scale(p, c.MakeNumeric(e.K)), 1)
	})
	between = anydiff.Scale(between, c.MakeNumeric(-1))
	return
}

// KL is the negated KL divergence between the normalized
// capsule activity and the uniform distribution, up to a
// constant.
// It is an Entropy loss with K set to the capsule count.
type KL struct{}

// Loss computes the KL terms.
func (k KL) Loss(capsPresence anydiff.Res, batch int) (within, between anydiff.Res) {
	numCaps := numCapsules(capsPresence, batch)
	return (&Entropy{K: float64(numCaps)}).Loss(capsPresence, batch)
}

func numCapsules(capsPresence anydiff.Res, batch int) int {
	if batch <= 0 || capsPresence.Output().Len()%batch != 0 {
		panic("presence length must be a multiple of the batch size")
	}
	return capsPresence.Output().Len() / batch
}

// columnSums sums a [rows, cols] tensor over its rows.
func columnSums(in anydiff.Res, rows, cols int) anydiff.Res {
	table := make([]int, 0, rows*cols)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			table = append(table, i*cols+j)
		}
	}
	return anycaps.SumChunks(anycaps.Gather(in, table), rows)
}

// normalize divides every chunk by its sum.
func normalize(in anydiff.Res, chunkSize int) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		sums := anydiff.AddScalar(anycaps.SumChunks(in, chunkSize),
			c.MakeNumeric(normalizeEpsilon))
		return anydiff.Div(in, anycaps.RepeatChunks(sums, 1, chunkSize))
	})
}

// crossEntropy computes the mean over n rows of
// -sum(target*log(pred)).
func crossEntropy(target, pred anydiff.Res, n int) anydiff.Res {
	c := target.Output().Creator()
	prod := anydiff.Mul(target, anycaps.SafeLog(pred))
	return anydiff.Scale(anydiff.Sum(prod), c.MakeNumeric(-1/float64(n)))
}
