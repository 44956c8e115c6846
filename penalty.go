package anycaps

import "github.com/unixpickle/anydiff"

// L2Loss computes half the sum of the squared components
// of every argument.
// It is commonly scaled by a batch size and added to a
// training objective.
func L2Loss(params ...anydiff.Res) anydiff.Res {
	if len(params) == 0 {
		panic("no parameters for L2 loss")
	}
	var sum anydiff.Res
	for _, p := range params {
		sq := anydiff.Sum(anydiff.Square(p))
		if sum == nil {
			sum = sq
		} else {
			sum = anydiff.Add(sum, sq)
		}
	}
	return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(0.5))
}
